package logging

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// New constructs a zerolog.Logger for the named service. The dev environment
// gets debug level and human-readable console output.
func New(appEnv, service string) zerolog.Logger {
	return newWithWriter(os.Stdout, appEnv, service)
}

func newWithWriter(w io.Writer, appEnv, service string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "dev" || appEnv == "development" {
		level = zerolog.DebugLevel
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Middleware logs one line per HTTP request.
func Middleware(l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			l.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Msg("http request")
		})
	}
}
