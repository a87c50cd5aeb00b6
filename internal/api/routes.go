package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cycletrader/internal/api/handlers"
	"cycletrader/internal/api/middleware"
	"cycletrader/internal/websocket"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Cycles handlers.CycleReader
	Orders handlers.OrderReader
	Events handlers.EventReader

	// Движок стратегии: снимок состояния и команды оператора
	Engine interface {
		handlers.StatusSource
		handlers.CommandExecutor
	}

	Hub *websocket.Hub

	// bcrypt-хеш API токена, пустая строка отключает аутентификацию
	APITokenHash string

	AccountID string
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /cycles
//	│   ├── GET / - активные циклы (?closed_since=24h для закрытых)
//	│   ├── GET /{id} - цикл с ордерами
//	│   ├── GET /{id}/orders - ордера цикла
//	│   └── POST /{id}/close - закрыть цикл
//	├── /orders
//	│   └── GET / - открытые ордера аккаунта
//	├── /events
//	│   └── GET / - журнал событий (?limit=50)
//	├── /status
//	│   └── GET / - снимок состояния движка
//	└── /bot/
//	    ├── POST /stop - остановить стратегию
//	    ├── POST /start - возобновить стратегию
//	    └── POST /close-all - закрыть все циклы
//
// /ws - WebSocket для real-time обновлений
// /metrics - Prometheus метрики
// /health - health check
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (только для /api/v1)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)

	// API v1 routes за аутентификацией
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth(deps.APITokenHash))

	if deps.Cycles != nil {
		cycleHandler := handlers.NewCycleHandler(deps.Cycles, deps.Orders, deps.Engine, deps.AccountID)
		api.HandleFunc("/cycles", cycleHandler.GetCycles).Methods("GET")
		api.HandleFunc("/cycles/{id}", cycleHandler.GetCycle).Methods("GET")
		api.HandleFunc("/cycles/{id}/orders", cycleHandler.GetCycleOrders).Methods("GET")
		api.HandleFunc("/cycles/{id}/close", cycleHandler.CloseCycle).Methods("POST")
		api.HandleFunc("/orders", cycleHandler.GetOpenOrders).Methods("GET")
	}

	if deps.Events != nil {
		eventHandler := handlers.NewEventHandler(deps.Events, deps.AccountID)
		api.HandleFunc("/events", eventHandler.GetEvents).Methods("GET")
	}

	if deps.Engine != nil {
		statusHandler := handlers.NewStatusHandler(deps.Engine, deps.Engine)
		api.HandleFunc("/status", statusHandler.GetStatus).Methods("GET")
		api.HandleFunc("/bot/stop", statusHandler.StopBot).Methods("POST")
		api.HandleFunc("/bot/start", statusHandler.StartBot).Methods("POST")
		api.HandleFunc("/bot/close-all", statusHandler.CloseAll).Methods("POST")
	}

	// WebSocket route
	if deps.Hub != nil {
		router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(deps.Hub, w, r)
		})
	}

	// Prometheus метрики
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
