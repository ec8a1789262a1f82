// Package feed streams assignment decisions to WebSocket subscribers.
//
// Transcript UIs subscribe to /v1/feed and receive one JSON [Event] per
// processed segment. The feed is strictly one-way and lossy for slow
// consumers: a subscriber that cannot keep up has the oldest undelivered
// events dropped rather than back-pressuring the decision pipeline.
package feed

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/wardlea/diarist/pkg/types"
)

// writeTimeout bounds a single event write to one subscriber.
const writeTimeout = 5 * time.Second

// subscriberBuffer is each subscriber's event queue depth.
const subscriberBuffer = 64

// Event is one decision as published to subscribers.
type Event struct {
	// Channel is the input channel the segment arrived on.
	Channel string `json:"channel"`

	// Index is the segment's position in the channel history.
	Index int `json:"index"`

	// SpeakerID and Label identify the assigned speaker.
	SpeakerID int    `json:"speaker_id"`
	Label     string `json:"label"`

	Reason     types.Reason `json:"reason"`
	Similarity float64      `json:"similarity"`
	Margin     float64      `json:"margin"`
	Forced     bool         `json:"forced,omitempty"`

	// RunnerUpLabel names the second-best candidate on ambiguous matches,
	// for "Speaker A (Speaker B?)" display.
	RunnerUpLabel string `json:"runner_up_label,omitempty"`

	// ClosestEnrolled is the nearest enrolled voice hint for unknown
	// pseudo-speakers.
	ClosestEnrolled *types.EnrolledHint `json:"closest_enrolled,omitempty"`
}

// Broadcaster fans events out to all connected WebSocket subscribers.
// All methods are safe for concurrent use.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewBroadcaster returns an initialised [Broadcaster].
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Publish delivers ev to every subscriber. Slow subscribers lose their
// oldest queued event; Publish never blocks the caller.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broadcaster) unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// ServeHTTP upgrades the request to a WebSocket and streams events until the
// client disconnects or the request context ends. Incoming messages are
// discarded — the feed is one-way.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("feed: websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "feed closed")

	sub := b.subscribe()
	defer b.unsubscribe(sub)

	// CloseRead discards client messages and cancels the context when the
	// connection drops.
	ctx := conn.CloseRead(r.Context())
	slog.Debug("feed: subscriber connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev := <-sub:
			if err := writeEvent(ctx, conn, ev); err != nil {
				slog.Debug("feed: subscriber write failed", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev Event) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, ev)
}
