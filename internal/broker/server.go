package broker

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/curibio/cloud-core/internal/auth"
)

const (
	// RetryTimeout is the reconnect hint attached to every event, ms.
	RetryTimeout = 15000

	// tokenUpdateWait is how long an expired connection lingers for the
	// client to push a fresh token before it is torn down.
	tokenUpdateWait = 60 * time.Second
)

// Server exposes the SSE surface: a stream per account and a token
// refresh endpoint for live connections.
type Server struct {
	hub *Hub
}

func NewServer(hub *Hub) *Server {
	return &Server{hub: hub}
}

// Stream is GET /public/stream. The scope guard has already admitted the
// caller; the stream serves events for the token's own account id.
func (s *Server) Stream(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	accountID := claims.AccountID()
	log := slog.With("account_id", accountID)
	log.Info("event stream connected")

	mb := s.hub.Add(claims)
	defer s.hub.Remove(accountID, mb)

	eventID := 0
	for {
		select {
		case <-r.Context().Done():
			log.Info("event stream closed by client")
			return
		case msg := <-mb.C():
			if mb.TokenExpired(time.Now()) {
				writeEvent(w, eventID, "token_expired", "")
				flusher.Flush()
				eventID++
				log.Info("token expired, waiting for update")

				select {
				case <-mb.TokenUpdated():
				case <-time.After(tokenUpdateWait):
					log.Info("no token update before timeout, closing stream")
					return
				case <-r.Context().Done():
					return
				}
			}

			writeEvent(w, eventID, msg.Event, msg.Data)
			flusher.Flush()
			eventID++
		}
	}
}

// UpdateToken is POST /public/token. It swaps the token on an existing
// stream; accounts without a live stream get a 403.
func (s *Server) UpdateToken(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFromContext(r.Context())
	if err := s.hub.UpdateToken(claims); err != nil {
		http.Error(w, "no active stream", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeEvent(w http.ResponseWriter, id int, event, data string) {
	fmt.Fprintf(w, "id: %d\nevent: %s\nretry: %d\ndata: %s\n\n", id, event, RetryTimeout, data)
}
