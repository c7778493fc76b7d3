package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	cws "github.com/coder/websocket"

	"taskreminder/internal/notify"
)

const streamMessageAlarm = "alarm-triggered"

// streamHandler pushes every fired alarm to the websocket client until the
// client goes away. Messages sent by the client are discarded.
func streamHandler(hub *notify.Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hub == nil {
			respondStatusError(w, newAPIError(http.StatusServiceUnavailable, "stream_unavailable", "notification stream not configured", nil))
			return
		}
		conn, err := cws.Accept(w, r, &cws.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			logger.Debug("websocket accept", slog.Any("error", err))
			return
		}
		defer conn.CloseNow()

		ch, unsubscribe := hub.Subscribe()
		defer unsubscribe()
		ctx := conn.CloseRead(r.Context())

		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-ch:
				if !ok {
					conn.Close(cws.StatusGoingAway, "")
					return
				}
				data, err := json.Marshal(StreamMessage{Type: streamMessageAlarm, Notification: n})
				if err != nil {
					logger.Error("encode stream message", slog.Any("error", err))
					continue
				}
				if err := conn.Write(ctx, cws.MessageText, data); err != nil {
					logger.Debug("websocket write", slog.String("task_id", n.TaskID), slog.Any("error", err))
					return
				}
			}
		}
	}
}
