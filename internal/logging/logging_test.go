package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLogsStatus(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(&buf, "prod", "api")

	h := Middleware(l)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/jobs/1", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "api", line["service"])
	assert.Equal(t, "/jobs/1", line["path"])
	assert.EqualValues(t, http.StatusTeapot, line["status"])
}
