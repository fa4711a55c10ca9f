package command

import (
	"context"
	"log/slog"
	"strings"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/achievement"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/progress"
	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// MANAGE FRIENDS COMMAND
// Friendship is mutual: both friend sets change together or not at all.
// ══════════════════════════════════════════════════════════════════════════════

// FriendAction selects add or remove.
type FriendAction string

const (
	FriendActionAdd    FriendAction = "add"
	FriendActionRemove FriendAction = "remove"
)

// ManageFriendCommand contains the data to change a friendship.
type ManageFriendCommand struct {
	// ActorID is the authenticated caller.
	ActorID string

	// FriendID is the other user.
	FriendID string

	Action FriendAction

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate checks everything that can be checked without reading records.
func (c ManageFriendCommand) Validate() error {
	actor, err := shared.RequireActor(c.ActorID)
	if err != nil {
		return err
	}
	friend, err := shared.NewUserID(c.FriendID)
	if err != nil {
		return err
	}
	if actor == friend {
		return shared.ErrSelfFriend
	}
	switch c.Action {
	case FriendActionAdd, FriendActionRemove:
		return nil
	default:
		return shared.NewDomainError("friends", "Validate", shared.ErrInvalidArgument, "unknown friend action")
	}
}

// ManageFriendResult contains the outcome of a friendship change.
type ManageFriendResult struct {
	// Actor and Friend are the records after the change.
	Actor  *progress.UserStats
	Friend *progress.UserStats

	// Unlocked maps user id to achievements unlocked by the change.
	Unlocked map[string][]achievement.Definition

	Events []shared.Event
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ManageFriendsHandler handles the ManageFriendCommand.
type ManageFriendsHandler struct {
	store          progress.Store
	evaluator      *achievement.Evaluator
	eventPublisher shared.EventPublisher
	logger         *slog.Logger
}

// NewManageFriendsHandler creates a new ManageFriendsHandler.
func NewManageFriendsHandler(
	store progress.Store,
	evaluator *achievement.Evaluator,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
) *ManageFriendsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if evaluator == nil {
		evaluator = achievement.NewEvaluator()
	}
	return &ManageFriendsHandler{
		store:          store,
		evaluator:      evaluator,
		eventPublisher: eventPublisher,
		logger:         logger.With("handler", "manage_friends"),
	}
}

// AddFriend makes two users friends of each other.
func (h *ManageFriendsHandler) AddFriend(ctx context.Context, actorID, friendID string) (*ManageFriendResult, error) {
	return h.Handle(ctx, ManageFriendCommand{ActorID: actorID, FriendID: friendID, Action: FriendActionAdd})
}

// RemoveFriend ends a friendship on both sides.
func (h *ManageFriendsHandler) RemoveFriend(ctx context.Context, actorID, friendID string) (*ManageFriendResult, error) {
	return h.Handle(ctx, ManageFriendCommand{ActorID: actorID, FriendID: friendID, Action: FriendActionRemove})
}

// Handle executes the command. All rejections happen before the single
// atomic write.
func (h *ManageFriendsHandler) Handle(ctx context.Context, cmd ManageFriendCommand) (*ManageFriendResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	actorID := strings.TrimSpace(cmd.ActorID)
	friendID := strings.TrimSpace(cmd.FriendID)

	actor, err := h.store.GetUser(ctx, actorID)
	if err != nil {
		return nil, shared.Persistence("friends", string(cmd.Action), err)
	}
	friend, err := h.store.GetUser(ctx, friendID)
	if err != nil {
		return nil, shared.Persistence("friends", string(cmd.Action), err)
	}

	var actorUpdate, friendUpdate progress.FieldUpdate
	switch cmd.Action {
	case FriendActionAdd:
		if actor.IsFriend(friendID) {
			return nil, shared.ErrAlreadyFriends
		}
		actorUpdate = progress.ArrayUnion(progress.FieldFriends, friendID)
		friendUpdate = progress.ArrayUnion(progress.FieldFriends, actorID)
	case FriendActionRemove:
		if !actor.IsFriend(friendID) && !friend.IsFriend(actorID) {
			return nil, shared.ErrNotFriends
		}
		actorUpdate = progress.ArrayRemove(progress.FieldFriends, friendID)
		friendUpdate = progress.ArrayRemove(progress.FieldFriends, actorID)
	}

	if err := h.store.RunAtomic(ctx,
		progress.DocumentUpdate{UserID: actorID, Updates: []progress.FieldUpdate{actorUpdate}},
		progress.DocumentUpdate{UserID: friendID, Updates: []progress.FieldUpdate{friendUpdate}},
	); err != nil {
		return nil, shared.Persistence("friends", string(cmd.Action), err)
	}

	actorAfter := project(ctx, h.store, h.logger, actor, actorUpdate)
	friendAfter := project(ctx, h.store, h.logger, friend, friendUpdate)

	result := &ManageFriendResult{
		Actor:    actorAfter,
		Friend:   friendAfter,
		Unlocked: make(map[string][]achievement.Definition),
	}

	var event shared.FriendshipChangedEvent
	if cmd.Action == FriendActionAdd {
		event = shared.NewFriendAddedEvent(actorID, friendID)
	} else {
		event = shared.NewFriendRemovedEvent(actorID, friendID)
	}
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	result.Events = append(result.Events, event)

	if cmd.Action == FriendActionAdd {
		// The friendship is already committed. A failed achievement write is
		// logged; threshold achievements are picked up by the next evaluation.
		for _, pair := range [][2]*progress.UserStats{{actor, actorAfter}, {friend, friendAfter}} {
			unlocked, err := unlockAchievements(ctx, h.store, h.logger, h.evaluator, pair[0], pair[1], achievement.Context{})
			if err != nil {
				h.logger.Error("failed to persist achievements", "user_id", pair[1].UserID, "error", err)
				continue
			}
			if len(unlocked) == 0 {
				continue
			}
			result.Unlocked[pair[1].UserID] = unlocked
			result.Events = append(result.Events, unlockedEvents(pair[1].UserID, unlocked)...)
		}
	}

	h.logger.Info("friendship changed", "action", cmd.Action, "user_id", actorID, "friend_id", friendID)
	publishAll(h.eventPublisher, h.logger, result.Events)

	return result, nil
}
