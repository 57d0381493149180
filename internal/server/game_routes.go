package server

import "github.com/gofiber/fiber/v2"

// RegisterGameRoutes registers the crash round, history and fairness routes.
func (s *FiberServer) RegisterGameRoutes(api fiber.Router) {
	g := api.Group("/game")

	g.Get("/state", s.getGameStateHandler)
	g.Post("/bet", s.placeBetHandler)
	g.Post("/cashout", s.cashoutHandler)
	g.Post("/cancel", s.cancelBetHandler)
	g.Get("/payouts", s.payoutHistoryHandler)

	g.Get("/history", s.historyHandler)
	g.Get("/rounds/:id", s.roundHandler)
	g.Get("/rounds/:id/verify", s.verifyRoundHandler)
	g.Post("/verify", s.verifyHandler)

	g.Get("/simulate", s.simulateHandler)
}
