package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const resultsPollInterval = 500 * time.Millisecond

// StreamResults follows the run that is current when the socket opens. It
// sends every result already recorded, then each new one as it lands, and
// finishes with {"done": true}. A later submission does not switch streams.
func (vc *VerificationController) StreamResults(c *websocket.Conn) {
	defer c.Close()

	run := vc.Scheduler.Current()
	log := vc.Logger.WithField("run_id", run.ID)
	ticker := time.NewTicker(resultsPollInterval)
	defer ticker.Stop()

	sent := 0
	for {
		for _, result := range run.ResultsFrom(sent) {
			if err := c.WriteJSON(result); err != nil {
				log.WithError(err).Debug("Results stream closed by client")
				return
			}
			sent++
		}

		if run.Completed() && sent >= run.Processed() {
			if err := c.WriteJSON(fiber.Map{"done": true, "run_id": run.ID, "total": run.Total()}); err != nil {
				log.WithError(err).Debug("Results stream closed by client")
			}
			return
		}

		select {
		case <-run.Done():
		case <-ticker.C:
		}
	}
}

// RequireUpgrade rejects plain HTTP requests to websocket routes.
func RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}
