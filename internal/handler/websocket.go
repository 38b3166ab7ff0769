package handler

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"gamehub/payment-settlement/internal/logger"
	"gamehub/payment-settlement/internal/middleware"
)

// PaymentEvents streams the caller's settlement events until either side
// hangs up.
// GET /ws/payments (upgraded to WS)
func (h *Handler) PaymentEvents(c *websocket.Conn) {
	userID, _ := c.Locals(middleware.LocalUserID).(string)
	log := logger.Get().With(zap.String("user_id", userID))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubsub := h.events.Subscribe(ctx, userID)
	defer pubsub.Close()

	// Reads only detect the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				log.Debug("payment stream closed", zap.Error(err))
				return
			}
		}
	}
}
