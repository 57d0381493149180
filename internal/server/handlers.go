package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"crashgame/internal/account"
	"crashgame/internal/game"
	"crashgame/internal/history"
)

const COMMAND_TIMEOUT = 5 * time.Second

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	disabled := map[string]string{"status": "disabled"}

	dbHealth, cacheHealth := disabled, disabled
	if s.db != nil {
		dbHealth = s.db.Health()
	}
	if s.cache != nil {
		cacheHealth = s.cache.Health()
	}

	state := s.engine.State()
	health := fiber.Map{
		"database": dbHealth,
		"cache":    cacheHealth,
		"game": fiber.Map{
			"status":            "running",
			"phase":             state.Phase,
			"round_id":          state.RoundID,
			"connected_clients": s.gameHub.GetClientCount(),
		},
	}
	return c.JSON(health)
}

// Crash game handlers

func (s *FiberServer) getGameStateHandler(c *fiber.Ctx) error {
	state := s.engine.State()
	if state.RoundID == "" {
		return c.Status(404).JSON(fiber.Map{
			"error": "No active game round",
		})
	}
	return c.JSON(state)
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req game.BetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), COMMAND_TIMEOUT)
	defer cancel()

	receipt, err := s.engine.PlaceBet(ctx, req)
	return commandReply(c, betResponse(receipt, err), err)
}

type userRequest struct {
	UserID string `json:"user_id"`
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	var req userRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), COMMAND_TIMEOUT)
	defer cancel()

	receipt, err := s.engine.CashOut(ctx, req.UserID)
	return commandReply(c, cashoutResponse(receipt, err), err)
}

func (s *FiberServer) cancelBetHandler(c *fiber.Ctx) error {
	var req userRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), COMMAND_TIMEOUT)
	defer cancel()

	receipt, err := s.engine.CancelBet(ctx, req.UserID)
	return commandReply(c, cancelResponse(receipt, err), err)
}

func (s *FiberServer) payoutHistoryHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"payouts": s.engine.PayoutHistory(),
	})
}

func betResponse(receipt game.BetReceipt, err error) game.CommandResponse {
	if err != nil {
		return game.CommandResponse{Type: "place_bet_result", Message: err.Error()}
	}
	return game.CommandResponse{Type: "place_bet_result", Success: true, Message: "Bet placed", Data: receipt}
}

func cashoutResponse(receipt game.CashoutReceipt, err error) game.CommandResponse {
	if err != nil {
		return game.CommandResponse{Type: "cash_out_result", Message: err.Error()}
	}
	return game.CommandResponse{Type: "cash_out_result", Success: true, Message: "Cashed out", Data: receipt}
}

func cancelResponse(receipt game.CancelReceipt, err error) game.CommandResponse {
	if err != nil {
		return game.CommandResponse{Type: "cancel_bet_result", Message: err.Error()}
	}
	return game.CommandResponse{Type: "cancel_bet_result", Success: true, Message: "Bet cancelled", Data: receipt}
}

func commandReply(c *fiber.Ctx, resp game.CommandResponse, err error) error {
	if err != nil {
		return c.Status(commandStatus(err)).JSON(resp)
	}
	return c.JSON(resp)
}

func commandStatus(err error) int {
	switch {
	case game.IsValidation(err):
		return fiber.StatusBadRequest
	case errors.Is(err, game.ErrEngineStopped):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// Round history and fairness handlers

func (s *FiberServer) historyHandler(c *fiber.Ctx) error {
	limit := history.ClampLimit(c.QueryInt("limit", history.DEFAULT_LIMIT))

	records, err := s.history.Recent(c.UserContext(), limit)
	if err != nil {
		log.Printf("[HISTORY] Recent failed: %v", err)
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to load round history",
		})
	}
	if records == nil {
		records = []game.RoundRecord{}
	}

	return c.JSON(fiber.Map{
		"rounds": records,
		"count":  len(records),
	})
}

func roundLookupError(c *fiber.Ctx, err error) error {
	if errors.Is(err, history.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{
			"error": "Round not found",
		})
	}
	log.Printf("[HISTORY] Get %s failed: %v", c.Params("id"), err)
	return c.Status(500).JSON(fiber.Map{
		"error": "Failed to load round",
	})
}

func (s *FiberServer) roundHandler(c *fiber.Ctx) error {
	rec, err := s.history.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return roundLookupError(c, err)
	}
	return c.JSON(rec)
}

func (s *FiberServer) verifyRoundHandler(c *fiber.Ctx) error {
	rec, err := s.history.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return roundLookupError(c, err)
	}

	proof := rec.Proof()
	result, err := game.VerifyCrashPoint(proof)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"round_id":     rec.RoundID,
		"proof":        proof,
		"verification": result,
	})
}

func (s *FiberServer) verifyHandler(c *fiber.Ctx) error {
	var proof game.Proof
	if err := c.BodyParser(&proof); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if proof.Punishment == (game.PunishmentPolicy{}) {
		proof.Punishment = s.engine.Punishment()
	}

	result, err := game.VerifyCrashPoint(proof)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(result)
}

func (s *FiberServer) simulateHandler(c *fiber.Ctx) error {
	rounds := c.QueryInt("rounds", game.DEFAULT_SIMULATION_ROUNDS)
	if rounds < 1 || rounds > game.MAX_SIMULATION_ROUNDS {
		return c.Status(400).JSON(fiber.Map{
			"error": "rounds must be between 1 and 1000",
		})
	}

	return c.JSON(fiber.Map{
		"rounds": game.Simulate(rounds, nil, nil),
	})
}

// Balance handlers

func (s *FiberServer) getUserBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	balance, err := s.ledger.Balance(c.UserContext(), userID)
	if err != nil {
		log.Printf("[LEDGER] Balance lookup failed for %s: %v", userID, err)
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to load balance",
		})
	}

	return c.JSON(fiber.Map{
		"user_id": userID,
		"balance": balance,
	})
}

// setUserBalanceHandler sets a user's balance (for testing/admin)
func (s *FiberServer) setUserBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	var body struct {
		Balance float64 `json:"balance"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if body.Balance < 0 {
		return c.Status(400).JSON(fiber.Map{
			"error": "Balance must not be negative",
		})
	}

	setter, ok := s.ledger.(account.Setter)
	if !ok {
		return c.Status(501).JSON(fiber.Map{
			"error": "Ledger does not support setting balances",
		})
	}

	balance := decimal.NewFromFloat(body.Balance).Round(2)
	if err := setter.SetBalance(c.UserContext(), userID, balance); err != nil {
		log.Printf("[LEDGER] SetBalance failed for %s: %v", userID, err)
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to set balance",
		})
	}

	return c.JSON(fiber.Map{
		"user_id": userID,
		"balance": balance,
		"message": "Balance updated successfully",
	})
}

type clientMessage struct {
	Type        string  `json:"type"`
	Amount      float64 `json:"amount"`
	AutoCashout float64 `json:"auto_cashout"`
}

// gameWebSocketHandler streams snapshots to a player and runs their commands.
// Replies go through the client's queue so they stay ordered with snapshots.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	userID := conn.Query("user_id", "anonymous")

	log.Printf("[WS] New connection from user: %s", userID)

	client := s.gameHub.RegisterClient(conn, userID)
	defer func() {
		s.gameHub.UnregisterClient(client)
		<-client.Done()
	}()

	client.SendState("initial_state", s.engine.State())

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[WS] Read error for user %s: %v", userID, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.Send(game.CommandResponse{Type: "error", Message: "Invalid message"})
			continue
		}

		client.Send(s.dispatch(userID, msg))
	}
}

func (s *FiberServer) dispatch(userID string, msg clientMessage) interface{} {
	ctx, cancel := context.WithTimeout(context.Background(), COMMAND_TIMEOUT)
	defer cancel()

	switch msg.Type {
	case "place_bet":
		receipt, err := s.engine.PlaceBet(ctx, game.BetRequest{
			UserID:      userID,
			Amount:      msg.Amount,
			AutoCashout: msg.AutoCashout,
		})
		return betResponse(receipt, err)

	case "cash_out", "cashout":
		receipt, err := s.engine.CashOut(ctx, userID)
		return cashoutResponse(receipt, err)

	case "cancel_bet":
		receipt, err := s.engine.CancelBet(ctx, userID)
		return cancelResponse(receipt, err)

	case "ping":
		return map[string]string{"type": "pong"}

	default:
		return game.CommandResponse{Type: "error", Message: "Unknown message type: " + msg.Type}
	}
}
