package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/negrahodzic/UniVerse-sub000/internal/domain/shared"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.ObserveEvent(shared.EventSessionSettled)
	m.ObserveEvent(shared.EventSessionSettled)
	m.ObserveHandler(shared.EventSessionSettled, time.Millisecond, errors.New("boom"))
	m.ObserveRequest("GET", "/api/v1/leaderboard", 200, 3*time.Millisecond)
	m.ConnectionOpened()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues(string(shared.EventSessionSettled))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handlerErrors.WithLabelValues(string(shared.EventSessionSettled))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/api/v1/leaderboard", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveExternalCall("book", "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `universe_eventapi_requests_total{operation="book",outcome="ok"} 1`)
}

func TestMetrics_Settlement(t *testing.T) {
	m := New()
	m.ObserveSettlement("ok", 20*time.Millisecond)
	m.ObserveSettlement("duplicate", time.Millisecond)
	m.ObserveCredit(250, 25)
	m.ObserveCredit(0, -1)
	m.ObserveAchievement("first_session")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.settlements.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.settlements.WithLabelValues("duplicate")))
	assert.Equal(t, 250.0, testutil.ToFloat64(m.pointsAwarded))
	assert.Equal(t, 25.0, testutil.ToFloat64(m.studyMinutes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.achievements.WithLabelValues("first_session")))
}

func TestMetrics_Jobs(t *testing.T) {
	m := New()
	m.ObserveJob("rebuild_leaderboard", time.Second, nil)
	m.ObserveJob("rebuild_leaderboard", time.Second, errors.New("down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("rebuild_leaderboard", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("rebuild_leaderboard", "error")))
}
