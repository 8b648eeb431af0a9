package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"ocobot/pkg/utils"
)

// Recovery - middleware восстановления после паники в handlers
//
// Паника логируется со stack trace, клиент получает 500 без подробностей,
// сервер продолжает обслуживать остальные запросы.
func Recovery(log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic in http handler",
						utils.Any("panic", rec),
						utils.String("method", r.Method),
						utils.String("path", r.URL.Path),
						zap.Stack("stack"),
					)

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal server error","code":"INTERNAL"}`))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
