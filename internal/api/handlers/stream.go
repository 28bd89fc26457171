package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/amaumene/shelfsync/internal/controllers"
	"github.com/amaumene/shelfsync/internal/models"
	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

const streamWriteTimeout = 5 * time.Second

// MessageTypeSnapshot tags a full library snapshot pushed to a client
const MessageTypeSnapshot = "snapshot"

// StreamMessage is a message sent over the library stream
type StreamMessage struct {
	Type  string               `json:"type"`
	Items []models.LibraryItem `json:"items"`
}

// StreamHandler pushes every library snapshot to WebSocket clients
type StreamHandler struct {
	library *controllers.LibraryController
	origins []string
	logger  *logrus.Logger
}

// NewStreamHandler creates a new stream handler. origins are host patterns
// accepted besides same-origin requests.
func NewStreamHandler(library *controllers.LibraryController, origins []string, logger *logrus.Logger) *StreamHandler {
	return &StreamHandler{
		library: library,
		origins: origins,
		logger:  logger,
	}
}

// ServeHTTP upgrades the connection and registers it as a subscriber
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Clients never send anything; CloseRead handles control frames and
	// cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())

	// One slot: a slow client skips intermediate snapshots and gets the latest
	pending := make(chan []models.LibraryItem, 1)
	unsubscribe := h.library.Subscribe(func(items []models.LibraryItem) {
		for {
			select {
			case pending <- items:
				return
			default:
			}
			select {
			case <-pending:
			default:
			}
		}
	})
	defer unsubscribe()

	// Anything already queued by a broadcast is at least as new
	select {
	case pending <- h.library.Snapshot():
	default:
	}

	log := h.logger.WithField("remote_addr", r.RemoteAddr)
	log.WithField("subscribers", h.library.SubscriberCount()).Info("Stream client connected")
	defer log.Info("Stream client disconnected")

	for {
		select {
		case <-ctx.Done():
			return
		case items := <-pending:
			if err := h.send(ctx, conn, items); err != nil {
				log.WithError(err).Debug("Failed to push snapshot")
				return
			}
		}
	}
}

func (h *StreamHandler) send(ctx context.Context, conn *websocket.Conn, items []models.LibraryItem) error {
	data, err := json.Marshal(StreamMessage{Type: MessageTypeSnapshot, Items: items})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
