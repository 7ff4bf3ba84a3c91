package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"reliefWs/internal/modules/alerts/application/usecase"
	"reliefWs/internal/modules/alerts/domain"
)

const liveFeedHeartbeat = 25 * time.Second

// NewLiveFeedHandler streams global traffic as server-sent events. The subscription lives as long
// as the request; slow readers drop frames instead of stalling the dispatcher.
func NewLiveFeedHandler(dispatcher *usecase.Dispatcher) echo.HandlerFunc {
	return func(c echo.Context) error {
		frames := make(chan *domain.Message, 32)
		sub := dispatcher.Subscribe(domain.TopicGlobal, func(msg *domain.Message) {
			select {
			case frames <- msg:
			default:
			}
		})
		defer sub.Unsubscribe()

		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set("Cache-Control", "no-cache")
		res.Header().Set("Connection", "keep-alive")
		res.WriteHeader(http.StatusOK)
		res.Flush()

		heartbeat := time.NewTicker(liveFeedHeartbeat)
		defer heartbeat.Stop()
		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-heartbeat.C:
				if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
					return nil
				}
				res.Flush()
			case msg := <-frames:
				data, err := json.Marshal(msg)
				if err != nil {
					slog.Warn("live feed marshal error", slog.Any("error", err))
					continue
				}
				if _, err := fmt.Fprintf(res, "id: %s\nevent: %s\ndata: %s\n\n", msg.EventID, msg.Event, data); err != nil {
					return nil
				}
				res.Flush()
			}
		}
	}
}
