// Package logger provides structured logging functionality
// using the Uber zap logging library.
package logger

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Log is the process-wide SugaredLogger. It discards everything until Init is called,
// so packages can log from tests without setting it up.
var Log = zap.NewNop().Sugar()

// Init replaces Log with a development-style logger at the given level
// ("debug", "info", "warn", "error", ...).
func Init(level string) error {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return err
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = lvl
	zl, err := cfg.Build()
	if err != nil {
		return err
	}
	Log = zl.Sugar()

	return nil
}

// Sync flushes any buffered log entries to the output.
func Sync() error {
	if err := Log.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}

// WithLoggingHTTPMiddleware logs one line per request: uri, method, status,
// duration, response size and the chi request id when present.
func WithLoggingHTTPMiddleware(h http.Handler) http.Handler {
	logFn := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		h.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		Log.Infow(
			"request served",
			"uri", r.RequestURI,
			"method", r.Method,
			"status", status,
			"duration", time.Since(start),
			"size", ww.BytesWritten(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	}

	return http.HandlerFunc(logFn)
}
