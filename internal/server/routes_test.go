package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"crashgame/internal/account"
	"crashgame/internal/config"
	"crashgame/internal/game"
	"crashgame/internal/history"
)

var zeroSeed = strings.Repeat("0", 64)

// newTestServer builds a server on the memory ledger and a temp SQLite
// history. The engine runs on a manual clock, so it stays in WAITING.
func newTestServer(t *testing.T) (*FiberServer, *history.SQLiteStore) {
	t.Helper()

	cfg := config.Default()
	cfg.Ledger.Backend = "memory"
	cfg.History.Backend = "sqlite"
	cfg.History.PruneCron = ""

	store, err := history.NewSQLiteStore(filepath.Join(t.TempDir(), "rounds.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}

	srv, err := build(cfg, &backends{
		ledger:    account.NewMemoryLedger(decimal.NewFromInt(1000)),
		history:   store,
		scheduler: game.NewManualScheduler(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}
	srv.RegisterFiberRoutes()
	srv.Start()
	t.Cleanup(func() { srv.Shutdown() })

	return srv, store
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, path, reader)
	if err != nil {
		t.Fatalf("could not create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("could not perform request: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("could not read response body: %v", err)
	}

	var result map[string]interface{}
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &result); err != nil {
			t.Fatalf("could not unmarshal response %q: %v", raw, err)
		}
	}
	return resp.StatusCode, result
}

func asDecimal(t *testing.T, v interface{}) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(fmt.Sprint(v))
	if err != nil {
		t.Fatalf("%v is not a decimal: %v", v, err)
	}
	return d
}

func TestHealthHandler(t *testing.T) {
	srv, _ := newTestServer(t)

	status, result := doRequest(t, srv.App, "GET", "/health", nil)
	if status != http.StatusOK {
		t.Fatalf("expected status OK; got %v", status)
	}

	gameHealth, ok := result["game"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected game section; got %v", result)
	}
	if gameHealth["phase"] != string(game.PhaseWaiting) {
		t.Errorf("expected phase WAITING; got %v", gameHealth["phase"])
	}
	if db, _ := result["database"].(map[string]interface{}); db["status"] != "disabled" {
		t.Errorf("expected database disabled; got %v", result["database"])
	}
}

func TestGetGameStateHandler(t *testing.T) {
	srv, _ := newTestServer(t)

	status, result := doRequest(t, srv.App, "GET", "/api/v1/game/state", nil)
	if status != http.StatusOK {
		t.Fatalf("expected status OK; got %v", status)
	}
	if result["phase"] != string(game.PhaseWaiting) {
		t.Errorf("phase = %v, want WAITING", result["phase"])
	}
	if result["crash_point"] != nil {
		t.Errorf("crash_point = %v, want null before the crash", result["crash_point"])
	}
	if _, leaked := result["server_seed"]; leaked {
		t.Error("server seed must not be exposed before the crash")
	}
	if result["commitment"] == "" {
		t.Error("expected a commitment for the round")
	}
}

func TestPlaceBetHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
	}{
		{"valid bet", game.BetRequest{UserID: "alice", Amount: 100, AutoCashout: 2}, http.StatusOK},
		{"anonymous user", game.BetRequest{UserID: "anonymous", Amount: 100}, http.StatusBadRequest},
		{"missing user", game.BetRequest{Amount: 100}, http.StatusBadRequest},
		{"amount below minimum", game.BetRequest{UserID: "bob", Amount: 0}, http.StatusBadRequest},
		{"amount above maximum", game.BetRequest{UserID: "bob", Amount: 20000}, http.StatusBadRequest},
		{"auto cash-out too low", game.BetRequest{UserID: "bob", Amount: 10, AutoCashout: 1}, http.StatusBadRequest},
		{"insufficient funds", game.BetRequest{UserID: "carol", Amount: 5000}, http.StatusBadRequest},
	}

	srv, _ := newTestServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, result := doRequest(t, srv.App, "POST", "/api/v1/game/bet", tt.body)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%v)", status, tt.wantStatus, result)
			}
			if result["success"] != (tt.wantStatus == http.StatusOK) {
				t.Errorf("success = %v", result["success"])
			}
		})
	}

	t.Run("balance debited", func(t *testing.T) {
		_, result := doRequest(t, srv.App, "GET", "/api/v1/user/alice/balance", nil)
		if got := asDecimal(t, result["balance"]); !got.Equal(decimal.NewFromInt(900)) {
			t.Errorf("balance = %s, want 900", got)
		}
	})

	t.Run("duplicate bet", func(t *testing.T) {
		status, _ := doRequest(t, srv.App, "POST", "/api/v1/game/bet", game.BetRequest{UserID: "alice", Amount: 10})
		if status != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", status)
		}
	})

	t.Run("invalid body", func(t *testing.T) {
		req, _ := http.NewRequest("POST", "/api/v1/game/bet", strings.NewReader("{not json"))
		req.Header.Set("Content-Type", "application/json")
		resp, err := srv.App.Test(req, -1)
		if err != nil {
			t.Fatalf("could not perform request: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestCancelBetHandler(t *testing.T) {
	srv, _ := newTestServer(t)

	status, _ := doRequest(t, srv.App, "POST", "/api/v1/game/bet", game.BetRequest{UserID: "dave", Amount: 40})
	if status != http.StatusOK {
		t.Fatalf("place bet status = %d", status)
	}

	status, result := doRequest(t, srv.App, "POST", "/api/v1/game/cancel", userRequest{UserID: "dave"})
	if status != http.StatusOK {
		t.Fatalf("cancel status = %d (%v)", status, result)
	}
	data := result["data"].(map[string]interface{})
	if got := asDecimal(t, data["balance"]); !got.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("balance after cancel = %s, want 1000", got)
	}

	status, _ = doRequest(t, srv.App, "POST", "/api/v1/game/cancel", userRequest{UserID: "dave"})
	if status != http.StatusBadRequest {
		t.Errorf("second cancel status = %d, want 400", status)
	}
}

func TestCashoutHandler_WaitingPhase(t *testing.T) {
	srv, _ := newTestServer(t)

	doRequest(t, srv.App, "POST", "/api/v1/game/bet", game.BetRequest{UserID: "erin", Amount: 10})

	status, result := doRequest(t, srv.App, "POST", "/api/v1/game/cashout", userRequest{UserID: "erin"})
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if result["type"] != "cash_out_result" || result["success"] != false {
		t.Errorf("unexpected response %v", result)
	}
}

func TestBalanceHandlers(t *testing.T) {
	srv, _ := newTestServer(t)

	_, result := doRequest(t, srv.App, "GET", "/api/v1/user/frank/balance", nil)
	if got := asDecimal(t, result["balance"]); !got.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("initial balance = %s, want 1000", got)
	}

	status, _ := doRequest(t, srv.App, "POST", "/api/v1/user/frank/balance", map[string]float64{"balance": 250.5})
	if status != http.StatusOK {
		t.Fatalf("set balance status = %d", status)
	}

	_, result = doRequest(t, srv.App, "GET", "/api/v1/user/frank/balance", nil)
	if got := asDecimal(t, result["balance"]); !got.Equal(decimal.RequireFromString("250.5")) {
		t.Errorf("balance = %s, want 250.5", got)
	}

	status, _ = doRequest(t, srv.App, "POST", "/api/v1/user/frank/balance", map[string]float64{"balance": -1})
	if status != http.StatusBadRequest {
		t.Errorf("negative balance status = %d, want 400", status)
	}
}

func TestSimulateHandler(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		query      string
		wantStatus int
		wantRounds int
	}{
		{"", http.StatusOK, game.DEFAULT_SIMULATION_ROUNDS},
		{"?rounds=5", http.StatusOK, 5},
		{"?rounds=0", http.StatusBadRequest, 0},
		{"?rounds=5000", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run("rounds"+tt.query, func(t *testing.T) {
			status, result := doRequest(t, srv.App, "GET", "/api/v1/game/simulate"+tt.query, nil)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d", status, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			rounds := result["rounds"].([]interface{})
			if len(rounds) != tt.wantRounds {
				t.Errorf("got %d rounds, want %d", len(rounds), tt.wantRounds)
			}
		})
	}
}

func TestVerifyHandler(t *testing.T) {
	srv, _ := newTestServer(t)

	t.Run("valid proof", func(t *testing.T) {
		proof := game.Proof{
			ServerSeed:    zeroSeed,
			Digest:        game.Digest(zeroSeed),
			Commitment:    game.Commitment(zeroSeed),
			Tier:          game.TierLow,
			ScalingFactor: 1,
			CrashPoint:    1.38,
		}
		status, result := doRequest(t, srv.App, "POST", "/api/v1/game/verify", proof)
		if status != http.StatusOK {
			t.Fatalf("status = %d (%v)", status, result)
		}
		if result["valid"] != true || result["crash_point"] != 1.38 {
			t.Errorf("unexpected verification %v", result)
		}
	})

	t.Run("tampered crash point", func(t *testing.T) {
		proof := game.Proof{ServerSeed: zeroSeed, Tier: game.TierLow, ScalingFactor: 1, CrashPoint: 2.5}
		_, result := doRequest(t, srv.App, "POST", "/api/v1/game/verify", proof)
		if result["valid"] != false {
			t.Errorf("expected invalid verification; got %v", result)
		}
	})

	t.Run("missing seed", func(t *testing.T) {
		status, _ := doRequest(t, srv.App, "POST", "/api/v1/game/verify", game.Proof{Tier: game.TierLow})
		if status != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", status)
		}
	})
}

func TestHistoryHandlers(t *testing.T) {
	srv, store := newTestServer(t)

	crashedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		seed := fmt.Sprintf("%s-%d", zeroSeed[:8], i)
		rec := game.RoundRecord{
			RoundID:             fmt.Sprintf("round-%d", i),
			Index:               i,
			Tier:                game.TierMid,
			ServerSeed:          seed,
			Digest:              game.Digest(seed),
			Commitment:          game.Commitment(seed),
			ScalingFactor:       1,
			PunishmentThreshold: game.DefaultPunishment.Threshold,
			PunishmentSlope:     game.DefaultPunishment.Slope,
			CrashPoint:          game.ComputeCrashPoint(game.TierMid, seed, 1, 0, 0),
			TotalWagered:        decimal.Zero,
			TotalPaid:           decimal.Zero,
			StartedAt:           crashedAt.Add(-time.Minute),
			CrashedAt:           crashedAt.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Record(context.Background(), rec); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	t.Run("recent", func(t *testing.T) {
		status, result := doRequest(t, srv.App, "GET", "/api/v1/game/history?limit=2", nil)
		if status != http.StatusOK {
			t.Fatalf("status = %d", status)
		}
		rounds := result["rounds"].([]interface{})
		if len(rounds) != 2 {
			t.Fatalf("got %d rounds, want 2", len(rounds))
		}
		newest := rounds[0].(map[string]interface{})
		if newest["round_id"] != "round-3" {
			t.Errorf("newest round = %v, want round-3", newest["round_id"])
		}
	})

	t.Run("get", func(t *testing.T) {
		status, result := doRequest(t, srv.App, "GET", "/api/v1/game/rounds/round-2", nil)
		if status != http.StatusOK {
			t.Fatalf("status = %d", status)
		}
		if result["round_index"] != float64(2) {
			t.Errorf("round_index = %v, want 2", result["round_index"])
		}
	})

	t.Run("verify", func(t *testing.T) {
		status, result := doRequest(t, srv.App, "GET", "/api/v1/game/rounds/round-1/verify", nil)
		if status != http.StatusOK {
			t.Fatalf("status = %d", status)
		}
		verification := result["verification"].(map[string]interface{})
		if verification["valid"] != true {
			t.Errorf("stored round failed verification: %v", verification)
		}
	})

	t.Run("unknown round", func(t *testing.T) {
		for _, path := range []string{"/api/v1/game/rounds/missing", "/api/v1/game/rounds/missing/verify"} {
			if status, _ := doRequest(t, srv.App, "GET", path, nil); status != http.StatusNotFound {
				t.Errorf("GET %s status = %d, want 404", path, status)
			}
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	req, _ := http.NewRequest("GET", "/metrics", nil)
	resp, err := srv.App.Test(req, -1)
	if err != nil {
		t.Fatalf("could not perform request: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "crash_risk_score") {
		t.Error("expected crash_risk_score in metrics output")
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	srv, _ := newTestServer(t)

	status, _ := doRequest(t, srv.App, "GET", "/ws", nil)
	if status != http.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", status)
	}
}

func TestDispatch(t *testing.T) {
	srv, _ := newTestServer(t)

	if got := srv.dispatch("gina", clientMessage{Type: "ping"}); got.(map[string]string)["type"] != "pong" {
		t.Errorf("ping reply = %v", got)
	}

	resp := srv.dispatch("gina", clientMessage{Type: "place_bet", Amount: 25, AutoCashout: 3}).(game.CommandResponse)
	if !resp.Success || resp.Type != "place_bet_result" {
		t.Fatalf("place_bet reply = %+v", resp)
	}

	resp = srv.dispatch("gina", clientMessage{Type: "cashout"}).(game.CommandResponse)
	if resp.Success {
		t.Error("cash-out during WAITING should fail")
	}

	resp = srv.dispatch("gina", clientMessage{Type: "cancel_bet"}).(game.CommandResponse)
	if !resp.Success {
		t.Errorf("cancel_bet reply = %+v", resp)
	}

	resp = srv.dispatch("anonymous", clientMessage{Type: "place_bet", Amount: 25}).(game.CommandResponse)
	if resp.Success {
		t.Error("anonymous players must not be able to bet")
	}

	resp = srv.dispatch("gina", clientMessage{Type: "jump"}).(game.CommandResponse)
	if resp.Type != "error" {
		t.Errorf("unknown message reply = %+v", resp)
	}
}

func TestCommandStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &game.ValidationError{Op: "place_bet", Reason: "duplicate bet"}, http.StatusBadRequest},
		{"wrapped validation", fmt.Errorf("wrap: %w", &game.ValidationError{Op: "cash_out", Reason: "no bet"}), http.StatusBadRequest},
		{"stopped", game.ErrEngineStopped, http.StatusServiceUnavailable},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := commandStatus(tt.err); got != tt.want {
				t.Errorf("commandStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}
