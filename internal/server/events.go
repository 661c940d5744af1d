package server

import (
	"context"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"

	"github.com/compresr/shrinker/internal/pipeline"
)

const (
	eventBuffer       = 256
	eventWriteTimeout = 5 * time.Second
)

// EventsHello is the first message on a new event stream.
type EventsHello struct {
	Kind    string          `json:"kind"`
	Session string          `json:"session"`
	Files   []pipeline.File `json:"files"`
}

// handleEvents streams the session's pipeline events over a websocket.
// A client that cannot keep up loses events, never blocks the pipeline;
// the count of dropped events is logged when the stream ends.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	// The stream outlives the server's write timeout
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns()})
	if err != nil {
		log.Debug().Err(err).Msg("server: websocket accept failed")
		return
	}
	defer conn.CloseNow()

	sess := s.session(r)
	events := make(chan pipeline.Event, eventBuffer)
	var dropped atomic.Int64
	unsubscribe := sess.Pipeline.Subscribe(func(ev pipeline.Event) {
		select {
		case events <- ev:
		default:
			dropped.Add(1)
		}
	})
	defer func() {
		unsubscribe()
		if n := dropped.Load(); n > 0 {
			log.Warn().Str("session", sess.ID).Int64("dropped", n).Msg("server: slow event client")
		}
	}()

	// The client never sends; CloseRead handles control frames and
	// cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	hello := EventsHello{Kind: "hello", Session: sess.ID, Files: sess.Pipeline.Files()}
	if err := writeEvent(ctx, conn, hello); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Context().Done():
			conn.Close(websocket.StatusGoingAway, "session expired")
			return
		case ev := <-events:
			if err := writeEvent(ctx, conn, ev); err != nil {
				log.Debug().Err(err).Str("session", sess.ID).Msg("server: event stream closed")
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

// originPatterns converts the CORS origins into websocket host patterns.
func (s *Server) originPatterns() []string {
	if len(s.cfg.AllowedOrigins) == 0 {
		return []string{"localhost:*", "127.0.0.1:*"}
	}
	patterns := make([]string, 0, len(s.cfg.AllowedOrigins))
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return patterns
}
