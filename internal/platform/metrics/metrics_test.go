package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTickTracksMax(t *testing.T) {
	c := New()
	c.RecordTick(2 * time.Millisecond)
	c.RecordTick(5 * time.Millisecond)
	c.RecordTick(1 * time.Millisecond)

	assert.Equal(t, int64(3), c.TickCount)
	assert.Equal(t, int64(5*time.Millisecond), c.TickLatencyMax)
}

func TestHandlerServesJSON(t *testing.T) {
	c := New()
	c.RecordEventWrite(time.Millisecond, errors.New("locked"))
	c.RecordCommand(true)
	c.RecordCommand(false)

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Events  map[string]float64 `json:"events"`
		Session map[string]float64 `json:"session"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1.0, body.Events["errors"])
	assert.Equal(t, 1.0, body.Session["commands_rejected"])
}

func TestPrometheusHandler(t *testing.T) {
	c := New()
	c.RecordWSConnection(1)
	c.RecordWSMessage(false)

	rec := httptest.NewRecorder()
	c.PrometheusHandler()(rec, httptest.NewRequest(http.MethodGet, "/metrics/prometheus", nil))

	out := rec.Body.String()
	assert.Contains(t, out, "mementos_ws_connections 1\n")
	assert.Contains(t, out, `mementos_ws_messages_total{direction="out"} 1`)
	assert.Contains(t, out, "# TYPE mementos_tick_count counter")
}
