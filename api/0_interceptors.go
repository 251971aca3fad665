package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/fulldump/box"

	"github.com/zpackdb/zpack/driver"
)

const ContextDriverKey = "04ba2bee-8bdd-4015-a913-d6c587754302"

func SetDriver(ctx context.Context, d driver.Driver) context.Context {
	return context.WithValue(ctx, ContextDriverKey, d)
}

func GetDriver(ctx context.Context) driver.Driver {
	return ctx.Value(ContextDriverKey).(driver.Driver)
}

func AccessLog(logger *slog.Logger) box.I {
	return func(next box.H) box.H {
		return func(ctx context.Context) {
			r := box.GetRequest(ctx)
			now := time.Now()
			defer func() {
				logger.Info("request",
					"remote", formatRemoteAddr(r),
					"method", r.Method,
					"url", r.URL.String(),
					"elapsed", time.Since(now),
				)
			}()

			next(ctx)
		}
	}
}

// RecoverFromPanic writes the 500 itself: the panic unwinds past the error
// rendering interceptor, so nobody downstream will.
func RecoverFromPanic(logger *slog.Logger) box.I {
	return func(next box.H) box.H {
		return func(ctx context.Context) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				logger.Error("panic recovered",
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
				w := box.GetResponse(ctx)
				w.WriteHeader(http.StatusInternalServerError)
				PrettyError{
					Message:     "internal error",
					Description: "Unexpected error",
				}.MarshalTo(w)
			}()

			next(ctx)
		}
	}
}

func formatRemoteAddr(r *http.Request) string {
	xorigin := strings.TrimSpace(strings.Split(
		r.Header.Get("X-Forwarded-For"), ",")[0])
	if xorigin != "" {
		return xorigin
	}

	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	return host
}
