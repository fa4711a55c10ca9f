package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse is the envelope of every API response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      interface{}   `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"requestId,omitempty"`
}

// APIError describes a failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta carries list metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version"`
	TotalCount int       `json:"totalCount,omitempty"`
}

// Error codes, one per error kind.
const (
	CodeNotLoggedIn     = "not_logged_in"
	CodeNotFound        = "not_found"
	CodeInvalidArgument = "invalid_argument"
	CodePersistence     = "persistence_failure"
	CodeExternalService = "external_service_error"
	CodeRateLimited     = "rate_limited"
	CodeDisabled        = "feature_disabled"
	CodeInternal        = "internal_error"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeEnvelope(w, r, status, JSONResponse{Success: true, Data: data, Meta: newMeta(0)})
}

func writeList(w http.ResponseWriter, r *http.Request, data interface{}, total int) {
	writeEnvelope(w, r, http.StatusOK, JSONResponse{Success: true, Data: data, Meta: newMeta(total)})
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeEnvelope(w, r, status, JSONResponse{
		Error: &APIError{Code: code, Message: message},
		Meta:  newMeta(0),
	})
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, body JSONResponse) {
	if r != nil {
		body.RequestID = requestIDFrom(r.Context())
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newMeta(total int) *ResponseMeta {
	return &ResponseMeta{Timestamp: time.Now().UTC(), Version: "v1", TotalCount: total}
}

// statusFor maps an error kind to its HTTP status and code.
func statusFor(err error) (int, string) {
	switch shared.KindOf(err) {
	case shared.ErrNotLoggedIn:
		return http.StatusUnauthorized, CodeNotLoggedIn
	case shared.ErrNotFound:
		return http.StatusNotFound, CodeNotFound
	case shared.ErrInvalidArgument:
		return http.StatusBadRequest, CodeInvalidArgument
	case shared.ErrPersistence:
		return http.StatusServiceUnavailable, CodePersistence
	case shared.ErrExternalService:
		if errors.Is(err, shared.ErrEventAPIRateLimited) {
			return http.StatusTooManyRequests, CodeRateLimited
		}
		return http.StatusBadGateway, CodeExternalService
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// publicMessage hides wrapped store and transport details from clients.
func publicMessage(err error) string {
	var de *shared.DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	if shared.KindOf(err) == nil {
		return "internal server error"
	}
	return shared.KindOf(err).Error()
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

var errEmptyBody = shared.NewDomainError("http", "Decode", shared.ErrInvalidArgument, "request body is required")

// decodeJSON reads a JSON body into dst. An empty body is allowed when
// optional is true.
func decodeJSON(r *http.Request, dst interface{}, optional bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if optional {
				return nil
			}
			return errEmptyBody
		}
		return shared.WrapError("http", "Decode", shared.ErrInvalidArgument, "malformed JSON body", err)
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, shared.WrapError("http", "Query", shared.ErrInvalidArgument, key+" must be an integer", err)
	}
	return n, nil
}
