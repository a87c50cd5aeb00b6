package middleware

import (
	"net/http"
	"runtime/debug"

	"cycletrader/pkg/utils"
)

// Recovery - middleware для восстановления после паники в handlers
//
// Перехватывает panic в любом handler, пишет stack trace в лог
// и возвращает клиенту 500. Сервер продолжает обслуживать
// последующие запросы.
func Recovery(next http.Handler) http.Handler {
	log := utils.GetGlobalLogger().WithComponent("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("handler panic",
					utils.Any("panic", err),
					utils.String("path", r.URL.Path),
					utils.String("stack", string(debug.Stack())),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
