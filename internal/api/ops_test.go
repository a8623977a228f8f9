package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/file-interrogator/internal/audit"
	"github.com/kenneth/file-interrogator/internal/metrics"
)

func newTestHandler(t *testing.T) (*Handler, audit.Journal) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	m.RecordInterrogation("accepted", time.Second)

	journal := audit.NewJournal(10, audit.NewJSONLineWriter(io.Discard))
	return NewHandler(m, journal, logger), journal
}

func TestHealthEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "interrogations_total"),
		"metrics output should expose the interrogation counter")
}

func TestJournalEndpoint(t *testing.T) {
	handler, journal := newTestHandler(t)

	first := uuid.New()
	second := uuid.New()
	journal.RecordAccepted(first, "interrogation", "obj-1", 1, 0, time.Second)
	journal.RecordRemoved(second, "inbox", "obj-2")

	rec := httptest.NewRecorder()
	handler.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/journal", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var events []*audit.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 2)
	assert.Equal(t, second, events[0].FileID)
	assert.Equal(t, first, events[1].FileID)
}

func TestJournalEndpointLimit(t *testing.T) {
	handler, journal := newTestHandler(t)
	for n := 0; n < 5; n++ {
		journal.RecordRemoved(uuid.New(), "inbox", "obj")
	}

	rec := httptest.NewRecorder()
	handler.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/journal?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var events []*audit.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Len(t, events, 2)

	rec = httptest.NewRecorder()
	handler.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/journal?limit=nope", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownMethodRejected(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.Router().ServeHTTP(rec, httptest.NewRequest("POST", "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
