package api

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"avatar-pipeline/internal/apperr"
	"avatar-pipeline/internal/config"
)

func TestWriteErrorLogsOnlyOperationalKinds(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		logged bool
	}{
		{"no credits", apperr.Admission("generate", apperr.ErrNoCredits), http.StatusPaymentRequired, false},
		{"missing job", apperr.NotFound("get job", apperr.ErrJobNotFound), http.StatusNotFound, false},
		{"store outage", apperr.Transient("create job", errors.New("connection reset")), http.StatusInternalServerError, true},
		{"untagged", errors.New("boom"), http.StatusInternalServerError, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var logs bytes.Buffer
			s := New(config.Config{}, Deps{Log: zerolog.New(&logs)})
			rec := httptest.NewRecorder()

			s.writeError(rec, tc.err)

			assert.Equal(t, tc.status, rec.Code)
			if tc.logged {
				assert.Contains(t, logs.String(), "request failed")
			} else {
				assert.Empty(t, logs.String())
			}
		})
	}
}
