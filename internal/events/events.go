// Package events carries evaluation state transitions to observers and
// streams them to websocket subscribers.
package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"nhooyr.io/websocket"
)

// Event is one state transition of an evaluation run.
type Event struct {
	RunID     string    `json:"run_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Message   string    `json:"message,omitempty"`
	Time      time.Time `json:"time"`
	ElapsedMS int64     `json:"elapsed_ms"` // time spent in From
	Terminal  bool      `json:"terminal"`
	// Score is set only when a run completes.
	Score *float64 `json:"score,omitempty"`
}

// Observer receives every transition. Implementations must not block.
type Observer interface {
	Observe(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// LogObserver writes transitions to an hclog logger.
type LogObserver struct {
	Logger hclog.Logger
}

func (o LogObserver) Observe(e Event) {
	args := []any{"run_id", e.RunID, "from", e.From, "to", e.To, "elapsed_ms", e.ElapsedMS}
	if e.Message != "" {
		args = append(args, "message", e.Message)
	}
	if e.Score != nil {
		args = append(args, "score", *e.Score)
	}
	if e.Terminal && e.To != "Completed" {
		o.Logger.Warn("evaluation ended", args...)
		return
	}
	o.Logger.Debug("evaluation transition", args...)
}

const subscriberBuffer = 64

type subscriber struct {
	runID string
	ch    chan Event
}

// Hub fans events out to websocket subscribers. Slow subscribers lose
// events rather than stall a run.
type Hub struct {
	log hclog.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func NewHub(logger hclog.Logger) *Hub {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Hub{log: logger.Named("events"), subs: make(map[*subscriber]struct{})}
}

func (h *Hub) Observe(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if s.runID != "" && s.runID != e.RunID {
			continue
		}
		select {
		case s.ch <- e:
		default:
			h.log.Debug("dropping event for slow subscriber", "run_id", e.RunID)
		}
	}
}

func (h *Hub) subscribe(runID string) *subscriber {
	s := &subscriber{runID: runID, ch: make(chan Event, subscriberBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams events as JSON text messages.
// The optional run_id query parameter filters to one run.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.log.Warn("websocket accept failed", "error", err)
		return
	}
	sub := h.subscribe(r.URL.Query().Get("run_id"))
	defer h.unsubscribe(sub)

	ctx := conn.CloseRead(r.Context())
	if err := h.stream(ctx, conn, sub); err != nil && ctx.Err() == nil {
		h.log.Debug("event stream ended", "error", err)
		conn.Close(websocket.StatusInternalError, "stream error")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, sub *subscriber) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-sub.ch:
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
