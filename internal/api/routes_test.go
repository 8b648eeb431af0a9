package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ocobot/internal/api/middleware"
	"ocobot/internal/bot"
	"ocobot/internal/config"
	"ocobot/internal/exchange"
	ws "ocobot/internal/websocket"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testServer struct {
	srv   *httptest.Server
	paper *exchange.Paper
	book  *bot.PositionBook
	oco   *bot.OCOManager
	token string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	paper := exchange.NewPaper()
	paper.SetMarkPrice("BTCUSDT", 50000)

	book := bot.NewPositionBook()
	bookkeeper := bot.NewBookkeeper(time.Second, nil)
	notifier := bot.NewNotifier(64, 100, nil)
	oco := bot.NewOCOManager(paper, bot.NewKeyedMutex(), book, bookkeeper, notifier, bot.OCOConfig{
		OrderTimeout:  time.Second,
		PollInterval:  10 * time.Millisecond,
		CancelRetries: 2,
		CancelBackoff: time.Millisecond,
	}, nil)
	closer := bot.NewPositionCloser(oco, nil)
	sizing, _ := config.LoadSizing("", 0.01)
	dispatcher := bot.NewDispatcher(oco, sizing, bot.DispatchConfig{OrderTimeout: time.Second, DedupTTL: time.Hour}, nil)
	intake := bot.NewIntake(dispatcher, 2, 16, nil)
	supervisor := bot.NewSupervisor(bot.SupervisorConfig{}, nil, intake, oco, nil)
	hub := ws.NewHub(nil)
	notifier.SetBroadcaster(hub)

	go hub.Run(ctx)
	supervisor.Start(ctx)

	handler := SetupRoutes(&Dependencies{
		Intake:     intake,
		OCO:        oco,
		Book:       book,
		Closer:     closer,
		Notifier:   notifier,
		Bookkeeper: bookkeeper,
		Supervisor: supervisor,
		Hub:        hub,
		Paper:      paper,
		Security:   config.SecurityConfig{JWTSecret: testSecret, DebugUsername: "admin"},
	})
	srv := httptest.NewServer(handler)

	t.Cleanup(func() {
		srv.Close()
		cancel()
		supervisor.Wait()
	})

	token, err := middleware.IssueToken(testSecret, "test", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return &testServer{srv: srv, paper: paper, book: book, oco: oco, token: token}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, s.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRoutes_RequireToken(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/api/v1/positions", "/api/v1/oco/pairs", "/api/v1/notifications", "/ws/stream"} {
		resp, err := http.Get(s.srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s: status = %d, want 401", path, resp.StatusCode)
		}
	}
}

func TestRoutes_PublicEndpoints(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	var health map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || health["status"] != "degraded" {
		t.Errorf("health = %d %v, want 200 degraded (no store)", resp.StatusCode, health)
	}

	resp, err = http.Get(s.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}

func TestRoutes_Preflight(t *testing.T) {
	s := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, s.srv.URL+"/api/v1/signals", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
}

// Сигнал по HTTP -> позиция с OCO парой -> цена paper биржи бьёт TP ->
// монитор закрывает позицию
func TestRoutes_SignalToTakeProfit(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/api/v1/signals",
		`{"id":"http-1","symbol":"BTCUSDT","side":"buy","stop_loss":49000,"take_profit":52000}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d: %v", resp.StatusCode, body)
	}

	waitFor(t, "position with active pair", func() bool {
		return s.book.Len() == 1 && len(s.oco.ActivePairs()) == 1
	})

	resp, body = s.do(t, http.MethodGet, "/api/v1/oco/pairs", "")
	if resp.StatusCode != http.StatusOK || body["total"].(float64) != 1 {
		t.Fatalf("pairs = %d %v", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodPost, "/api/v1/signals",
		`{"id":"http-1","symbol":"BTCUSDT","side":"buy","stop_loss":49000}`)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate status = %d: %v", resp.StatusCode, body)
	}

	resp, body = s.do(t, http.MethodPost, "/api/v1/paper/prices", `{"symbol":"BTCUSDT","price":52500}`)
	if resp.StatusCode != http.StatusOK || len(body["filled"].([]interface{})) != 1 {
		t.Fatalf("set price = %d %v", resp.StatusCode, body)
	}

	waitFor(t, "position closed by take profit", func() bool {
		return s.book.Len() == 0
	})
	if s.paper.OpenOrders("BTCUSDT") != 0 {
		t.Error("stop loss left on exchange")
	}

	waitFor(t, "take profit notification", func() bool {
		_, body := s.do(t, http.MethodGet, "/api/v1/notifications?types=tp", "")
		total, _ := body["total"].(float64)
		return total == 1
	})
}

func TestRoutes_ManualClose(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodPost, "/api/v1/signals",
		`{"id":"http-2","symbol":"BTCUSDT","side":"sell","stop_loss_pct":0.02,"take_profit_pct":0.04}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	waitFor(t, "position", func() bool { return s.book.Len() == 1 })

	positionID := s.book.Open()[0].ID
	resp, body := s.do(t, http.MethodPost, "/api/v1/positions/"+positionID+"/close", "")
	if resp.StatusCode != http.StatusOK || body["closed_by"] != "close_order" {
		t.Fatalf("close = %d %v", resp.StatusCode, body)
	}
	if s.book.Len() != 0 || s.paper.OpenOrders("BTCUSDT") != 0 {
		t.Errorf("book = %d open orders = %d", s.book.Len(), s.paper.OpenOrders("BTCUSDT"))
	}

	resp, _ = s.do(t, http.MethodPost, "/api/v1/positions/"+positionID+"/close", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second close status = %d, want 404", resp.StatusCode)
	}
}
