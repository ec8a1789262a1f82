package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/wardlea/diarist/internal/cluster"
	"github.com/wardlea/diarist/internal/cluster/unknown"
	"github.com/wardlea/diarist/internal/observe"
	"github.com/wardlea/diarist/pkg/types"
)

// Manager owns one [Channel] per input (e.g. per microphone) and keeps their
// enrolled-speaker sets consistent. Cross-channel consistency is eventual and
// snapshot-based: SetEnrolled copies the current snapshot into every existing
// channel, and newly created channels receive it before their first
// utterance. All exported methods are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	channels map[string]*Channel
	order    []string
	enrolled []types.EnrolledSpeaker

	clusterCfg cluster.Config
	unknownCfg unknown.Config
	metrics    *observe.Metrics
}

// ManagerConfig holds the dependencies for a [Manager].
type ManagerConfig struct {
	Cluster cluster.Config
	Unknown unknown.Config

	// Metrics may be nil to disable metric recording.
	Metrics *observe.Metrics
}

// NewManager creates a Manager. Channels are created lazily by [Manager.Channel].
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		channels:   make(map[string]*Channel),
		clusterCfg: cfg.Cluster,
		unknownCfg: cfg.Unknown,
		metrics:    cfg.Metrics,
	}
}

// Channel returns the named channel, creating it on first use. A new channel
// receives the manager's current enrolled snapshot before it can process its
// first utterance, so enrolled voices are never silently treated as
// undiscovered.
func (m *Manager) Channel(name string) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.channels[name]; ok {
		return ch
	}

	ch := newChannel(name, cluster.New(m.clusterCfg), unknown.New(m.unknownCfg), m.metrics)
	if len(m.enrolled) > 0 {
		ch.ImportEnrolled(m.enrolled)
	}
	m.channels[name] = ch
	m.order = append(m.order, name)
	slog.Info("created channel engine", "channel", name, "enrolled", len(m.enrolled))
	return ch
}

// Lookup returns the named channel without creating it.
func (m *Manager) Lookup(name string) (*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[name]
	if !ok {
		return nil, fmt.Errorf("session: unknown channel %q", name)
	}
	return ch, nil
}

// SetEnrolled stores the enrollment snapshot and propagates a copy to every
// existing channel. Propagation is a point-in-time copy, not a live
// subscription: channels created later get this snapshot, enrollments made
// later need another SetEnrolled call.
func (m *Manager) SetEnrolled(list []types.EnrolledSpeaker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enrolled = make([]types.EnrolledSpeaker, len(list))
	copy(m.enrolled, list)

	for _, name := range m.order {
		m.channels[name].ImportEnrolled(m.enrolled)
	}
	slog.Info("propagated enrolled snapshot", "enrolled", len(list), "channels", len(m.order))
}

// Channels returns the channel names in creation order.
func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}
