package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/gorilla/mux"

	"github.com/negrahodzic/UniVerse-sub000/config"
	"github.com/negrahodzic/UniVerse-sub000/internal/application/command"
	"github.com/negrahodzic/UniVerse-sub000/internal/application/query"
	"github.com/negrahodzic/UniVerse-sub000/internal/application/saga"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/achievement"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/leaderboard"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
	"github.com/negrahodzic/UniVerse-sub000/internal/infrastructure/realtime"
	"github.com/negrahodzic/UniVerse-sub000/pkg/logger"
)

// writeError maps err to its status and logs server-side failures.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= 500 {
		logger.FromContext(r.Context()).Error("request error",
			logger.String("code", code),
			logger.Err(err),
		)
	}
	writeJSONError(w, r, status, code, publicMessage(err))
}

func (s *Server) featureOff(w http.ResponseWriter, r *http.Request, feature string) bool {
	if s.deps.Features == nil || s.deps.Features.IsEnabled(feature, UserIDFrom(r.Context())) {
		return false
	}
	writeJSONError(w, r, http.StatusNotFound, CodeDisabled, "feature is not enabled")
	return true
}

// pathUserID resolves {id}, where "me" is the caller.
func pathUserID(r *http.Request) string {
	id := strings.TrimSpace(mux.Vars(r)["id"])
	if id == "me" {
		return UserIDFrom(r.Context())
	}
	return id
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
	}
	writeEnvelope(w, r, code, JSONResponse{Success: status.Ready, Data: status})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	if !status.Ready {
		writeJSONError(w, r, http.StatusServiceUnavailable, CodePersistence, status.Message)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{"ready": true, "message": status.Message})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"alive":  true,
		"uptime": s.deps.Health.Uptime().Round(time.Second).String(),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// USERS
// ══════════════════════════════════════════════════════════════════════════════

type registerRequest struct {
	Username string `json:"username"`
}

type registerResponse struct {
	UserID       string              `json:"userId"`
	Username     string              `json:"username"`
	Token        string              `json:"token"`
	RegisteredAt time.Time           `json:"registeredAt"`
	Stats        *progress.UserStats `json:"stats"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.deps.Registration.Execute(r.Context(), saga.RegistrationInput{Username: req.Username})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, registerResponse{
		UserID:       result.Stats.UserID,
		Username:     result.Stats.Username,
		Token:        result.Token,
		RegisteredAt: result.RegisteredAt,
		Stats:        result.Stats,
	})
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.UserStats.Handle(r.Context(), UserIDFrom(r.Context()), pathUserID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

type achievementsResponse struct {
	Earned       int                  `json:"earned"`
	Total        int                  `json:"total"`
	Achievements []achievement.Status `json:"achievements"`
}

func (s *Server) handleAchievements(w http.ResponseWriter, r *http.Request) {
	me := UserIDFrom(r.Context())
	view, err := s.deps.UserStats.Handle(r.Context(), me, me)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, achievementsResponse{
		Earned:       view.AchievementsEarned,
		Total:        view.AchievementsTotal,
		Achievements: view.Achievements,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD & FRIENDS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	result, err := s.deps.Leaderboard.Handle(r.Context(), query.GetLeaderboardQuery{
		RequesterID: UserIDFrom(r.Context()),
		Scope:       leaderboard.Scope(strings.ToLower(q.Get("scope"))),
		Metric:      leaderboard.Metric(strings.ToLower(q.Get("metric"))),
		Limit:       limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, r, result, len(result.Entries))
}

type friendResponse struct {
	Friends  []string                            `json:"friends"`
	Unlocked map[string][]achievement.Definition `json:"unlocked,omitempty"`
}

func (s *Server) handleAddFriend(w http.ResponseWriter, r *http.Request) {
	s.changeFriend(w, r, s.deps.Friends.AddFriend)
}

func (s *Server) handleRemoveFriend(w http.ResponseWriter, r *http.Request) {
	s.changeFriend(w, r, s.deps.Friends.RemoveFriend)
}

func (s *Server) changeFriend(
	w http.ResponseWriter,
	r *http.Request,
	change func(ctx context.Context, actorID, friendID string) (*command.ManageFriendResult, error),
) {
	result, err := change(r.Context(), UserIDFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, friendResponse{Friends: result.Actor.Friends, Unlocked: result.Unlocked})
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDY SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

type joinRequest struct {
	NfcID string `json:"nfcId"`
}

type startRequest struct {
	PlannedSeconds int `json:"plannedSeconds"`
}

type completeRequest struct {
	ActualSeconds int `json:"actualSeconds"`
}

type settlementView struct {
	PointsEarned int                      `json:"pointsEarned"`
	StreakDays   int                      `json:"streakDays"`
	Level        int                      `json:"level"`
	Unlocked     []achievement.Definition `json:"unlocked,omitempty"`
}

type completeResponse struct {
	Session interface{}               `json:"session"`
	Settled map[string]settlementView `json:"settled"`
	Resumed bool                      `json:"resumed"`
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	recs, err := s.deps.SessionQueries.History(r.Context(), UserIDFrom(r.Context()), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, r, recs, len(recs))
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeJSON(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.deps.Sessions.Create(r.Context(), UserIDFrom(r.Context()), req.NfcID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, rec)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.SessionQueries.Get(r.Context(), UserIDFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

func (s *Server) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeJSON(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.deps.Sessions.Join(r.Context(), mux.Vars(r)["id"], UserIDFrom(r.Context()), req.NfcID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

func (s *Server) handleLeaveSession(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Sessions.Leave(r.Context(), mux.Vars(r)["id"], UserIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.deps.Sessions.Start(r.Context(), mux.Vars(r)["id"], UserIDFrom(r.Context()), req.PlannedSeconds)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.deps.Sessions.Complete(r.Context(), mux.Vars(r)["id"], UserIDFrom(r.Context()), req.ActualSeconds)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	settled := make(map[string]settlementView, len(result.Settled))
	for userID, res := range result.Settled {
		settled[userID] = settlementView{
			PointsEarned: res.After.Points - res.Before.Points,
			StreakDays:   res.After.StreakDays,
			Level:        res.After.Level(),
			Unlocked:     res.Unlocked,
		}
	}
	writeJSON(w, r, http.StatusOK, completeResponse{Session: result.Session, Settled: settled, Resumed: result.Resumed})
}

// ══════════════════════════════════════════════════════════════════════════════
// LIVE FEEDS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleSessionLive(w http.ResponseWriter, r *http.Request) {
	if s.featureOff(w, r, config.FeatureLiveSessions) {
		return
	}
	me := UserIDFrom(r.Context())
	rec, err := s.deps.SessionQueries.Get(r.Context(), me, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.serveLive(w, r, realtime.Topic{UserID: me, SessionID: rec.ID})
}

func (s *Server) handleNotificationsLive(w http.ResponseWriter, r *http.Request) {
	if s.featureOff(w, r, config.FeatureLiveNotifications) {
		return
	}
	s.serveLive(w, r, realtime.Topic{UserID: UserIDFrom(r.Context())})
}

// serveLive blocks for the lifetime of the connection.
func (s *Server) serveLive(w http.ResponseWriter, r *http.Request, topic realtime.Topic) {
	if s.deps.Live == nil {
		writeJSONError(w, r, http.StatusNotFound, CodeDisabled, "live feed is not enabled")
		return
	}
	err := s.deps.Live.Serve(w, r, topic)
	switch {
	case err == nil:
	case errors.Is(err, realtime.ErrHubClosed):
		logger.FromContext(r.Context()).Debug("live feed refused, hub closed")
	case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway:
	default:
		logger.FromContext(r.Context()).Debug("live feed ended", logger.Err(err))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENTS
// ══════════════════════════════════════════════════════════════════════════════

type bookRequest struct {
	Tickets int `json:"tickets"`
}

type bookResponse struct {
	BookingID       string `json:"bookingId"`
	EventID         string `json:"eventId"`
	Tickets         int    `json:"tickets"`
	Cost            int    `json:"cost"`
	RemainingPoints int    `json:"remainingPoints"`
	TicketRef       string `json:"ticketRef"`
}

type attendResponse struct {
	EventsAttended int                      `json:"eventsAttended"`
	Unlocked       []achievement.Definition `json:"unlocked,omitempty"`
}

func (s *Server) eventsUnavailable(w http.ResponseWriter, r *http.Request) bool {
	if s.featureOff(w, r, config.FeatureEventBooking) {
		return true
	}
	if s.deps.Events == nil || s.deps.Booking == nil {
		s.writeError(w, r, shared.ErrEventAPIUnavailable)
		return true
	}
	return false
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.eventsUnavailable(w, r) {
		return
	}
	events, err := s.deps.Events.Handle(r.Context(), UserIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeList(w, r, events, len(events))
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	if s.eventsUnavailable(w, r) {
		return
	}
	view, err := s.deps.Events.Get(r.Context(), UserIDFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

func (s *Server) handleBookEvent(w http.ResponseWriter, r *http.Request) {
	if s.eventsUnavailable(w, r) {
		return
	}
	var req bookRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.deps.Booking.Handle(r.Context(), command.BookEventCommand{
		ActorID: UserIDFrom(r.Context()),
		EventID: mux.Vars(r)["id"],
		Tickets: req.Tickets,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, bookResponse{
		BookingID:       result.Booking.BookingID,
		EventID:         result.Event.ID,
		Tickets:         req.Tickets,
		Cost:            result.Cost,
		RemainingPoints: result.RemainingPoints,
		TicketRef:       result.TicketRef,
	})
}

func (s *Server) handleAttendEvent(w http.ResponseWriter, r *http.Request) {
	if s.featureOff(w, r, config.FeatureEventBooking) {
		return
	}
	if s.deps.Attendance == nil {
		s.writeError(w, r, shared.ErrEventAPIUnavailable)
		return
	}
	result, err := s.deps.Attendance.Handle(r.Context(), UserIDFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, attendResponse{EventsAttended: result.Stats.EventsAttended, Unlocked: result.Unlocked})
}
