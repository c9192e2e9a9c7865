package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/logger"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/metrics"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/utils"
)

// Recovery turns a handler panic into a 500 envelope and counts it.
// http.ErrAbortHandler is re-raised so net/http can abort the response.
func Recovery(log *logger.Logger) func(http.Handler) http.Handler {
	log = log.WithComponent("recovery")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.WithFields(map[string]interface{}{
					"panic":      fmt.Sprint(rec),
					"stack":      string(debug.Stack()),
					"route":      r.Method + " " + r.URL.Path,
					"request_id": GetRequestID(r),
				}).Error("Handler panicked")
				metrics.RecordPanic()

				utils.WriteError(w, errors.Internal("Internal server error", fmt.Errorf("panic: %v", rec)))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
