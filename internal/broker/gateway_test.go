package broker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newTestGateway поднимает фейковый мост и шлюз к нему
func newTestGateway(t *testing.T, handler http.HandlerFunc) (*Gateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gw := NewGateway(GatewayConfig{
		BaseURL: srv.URL,
		Token:   "test-token-0123456789",
		Account: "acc-1001",
		Rate:    1000,
		Burst:   1000,
	}, nil)
	return gw, srv
}

func writeEnvelope(w http.ResponseWriter, data interface{}) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

func TestGateway_Quote(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/quote" {
			t.Errorf("путь = %s, ожидался /api/v1/quote", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-token-0123456789" {
			t.Errorf("неверный заголовок Authorization: %q", auth)
		}

		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["symbol"] != "EURUSD" {
			t.Errorf("symbol = %q, ожидался EURUSD", req["symbol"])
		}

		writeEnvelope(w, Quote{Symbol: "EURUSD", Bid: 1.1000, Ask: 1.1002})
	})

	q, err := gw.Quote(context.Background(), "EURUSD")
	if err != nil {
		t.Fatalf("Quote вернул ошибку: %v", err)
	}
	if q.Bid != 1.1000 || q.Ask != 1.1002 {
		t.Errorf("Quote = %+v, ожидалось bid 1.1000 ask 1.1002", q)
	}
}

func TestGateway_Buy(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Type   string  `json:"type"`
			Symbol string  `json:"symbol"`
			Volume float64 `json:"volume"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		if req.Type != "buy" {
			t.Errorf("type = %q, ожидался buy", req.Type)
		}
		writeEnvelope(w, OrderResult{Ticket: 123456, Price: 1.1002, Volume: req.Volume})
	})

	res, err := gw.Buy(context.Background(), OrderRequest{Symbol: "EURUSD", Volume: 0.1})
	if err != nil {
		t.Fatalf("Buy вернул ошибку: %v", err)
	}
	if res.Ticket != 123456 {
		t.Errorf("Ticket = %d, ожидался 123456", res.Ticket)
	}
}

func TestGateway_Buy_ZeroTicket(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, OrderResult{Ticket: 0})
	})

	_, err := gw.Buy(context.Background(), OrderRequest{Symbol: "EURUSD", Volume: 0.1})
	if err == nil {
		t.Fatal("нулевой тикет должен быть ошибкой")
	}
}

func TestGateway_BridgeError(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": false,
			"error":   map[string]string{"code": "REQUOTE", "message": "price changed"},
		})
	})

	err := gw.CloseOrder(context.Background(), 111)
	if err == nil {
		t.Fatal("ожидалась ошибка моста")
	}

	var be *BrokerError
	if !errors.As(err, &be) {
		t.Fatalf("ожидалась BrokerError, получено %T", err)
	}
	if be.Code != "REQUOTE" {
		t.Errorf("Code = %q, ожидался REQUOTE", be.Code)
	}
	if !be.Temporary() {
		t.Error("REQUOTE должен быть временной ошибкой")
	}
}

func TestGateway_ServerError_IsTransient(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	})

	_, err := gw.ListPositions(context.Background())
	var be *BrokerError
	if !errors.As(err, &be) {
		t.Fatalf("ожидалась BrokerError, получено %v", err)
	}
	if !be.Temporary() {
		t.Error("HTTP 500 должен быть временной ошибкой")
	}
}

func TestGateway_IsOrderClosed(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]int64
		json.NewDecoder(r.Body).Decode(&req)
		writeEnvelope(w, map[string]bool{"closed": req["ticket"] == 42})
	})

	closed, err := gw.IsOrderClosed(context.Background(), 42)
	if err != nil {
		t.Fatalf("IsOrderClosed вернул ошибку: %v", err)
	}
	if !closed {
		t.Error("тикет 42 должен быть закрыт")
	}

	closed, err = gw.IsOrderClosed(context.Background(), 43)
	if err != nil {
		t.Fatalf("IsOrderClosed вернул ошибку: %v", err)
	}
	if closed {
		t.Error("тикет 43 не должен быть закрыт")
	}
}

func TestGateway_DealsForTicket(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, []Deal{
			{Ticket: 1, OrderTicket: 42, Profit: 10.5, Swap: -0.1, Commission: -0.4},
		})
	})

	deals, err := gw.DealsForTicket(context.Background(), 42)
	if err != nil {
		t.Fatalf("DealsForTicket вернул ошибку: %v", err)
	}
	if len(deals) != 1 {
		t.Fatalf("получено %d сделок, ожидалась 1", len(deals))
	}
	if deals[0].Profit != 10.5 {
		t.Errorf("Profit = %v, ожидалось 10.5", deals[0].Profit)
	}
}

func TestGateway_Pip_Invalid(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, map[string]float64{"pip": 0})
	})

	_, err := gw.Pip(context.Background(), "EURUSD")
	if err == nil {
		t.Fatal("нулевой пипс должен быть ошибкой")
	}
}

func TestPendingOrder_Side(t *testing.T) {
	tests := []struct {
		orderType string
		expected  string
	}{
		{PendingBuyStop, "buy"},
		{PendingBuyLimit, "buy"},
		{PendingSellStop, "sell"},
		{PendingSellLimit, "sell"},
		{"unknown", ""},
	}

	for _, tt := range tests {
		p := &PendingOrder{Type: tt.orderType}
		if got := p.Side(); got != tt.expected {
			t.Errorf("Side(%q) = %q, want %q", tt.orderType, got, tt.expected)
		}
	}
}
