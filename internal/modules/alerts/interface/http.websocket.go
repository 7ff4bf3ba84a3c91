package transport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"reliefWs/internal/modules/alerts/domain"
	"reliefWs/internal/modules/alerts/infrastructure"
	"reliefWs/internal/shared/auth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewAlertsWebsocketHandler exposes /ws. A token is optional: without one the connection is
// anonymous until it joins the public feed or authenticates through join_user.
func NewAlertsWebsocketHandler(deps Deps) echo.HandlerFunc {
	processor := newCommandSet(deps).processor()

	return func(c echo.Context) error {
		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		peerIP := c.RealIP()

		identity := domain.Anonymous()
		if token := auth.ExtractToken(c.Request(), "token"); token != "" {
			if deps.Validator == nil {
				return httpError(auth.ErrInvalidToken)
			}
			claims, err := deps.Validator.Validate(token)
			if err != nil {
				slog.Warn("ws auth failed", slog.String("ip", peerIP), slog.Any("error", err))
				return httpError(err)
			}
			identity = identityFromClaims(claims)
		}

		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			slog.Error("ws upgrade failed", slog.String("ip", peerIP), slog.String("reqID", requestID), slog.Any("error", err))
			return nil
		}

		connID := uuid.NewString()
		codec := infrastructure.CodecFor(c.QueryParam("format"))
		client := infrastructure.NewClient(conn, connID, codec, deps.SendBuffer, processor, deps.Connections.Disconnect)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		topics, err := deps.Connections.Connect(ctx, connID, identity, client)
		cancel()
		if err != nil {
			slog.Error("ws register failed", slog.String("connectionId", connID), slog.Any("error", err))
			_ = conn.Close()
			return nil
		}

		go client.WritePump()
		go client.ReadPump()

		client.Send(domain.BuildSystemMessage(domain.FrameSystemConnected, map[string]string{
			"connectionId": connID,
			"userId":       identity.UserID,
			"role":         string(identity.Role),
		}, map[string]any{
			"topics": topics,
			"format": codec.Name(),
		}, time.Now()))

		slog.Info("ws connected", slog.String("connectionId", connID), slog.String("userId", identity.UserID), slog.String("ip", peerIP), slog.String("reqID", requestID))
		return nil
	}
}
