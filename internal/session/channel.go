// Package session owns the live identity-resolution state for a running
// transcription session: one [Channel] per audio input, each with its own
// primary engine, unknown clusterer, and ordered segment history, plus a
// [Manager] that creates channels and propagates enrolled-speaker snapshots
// between them.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/wardlea/diarist/internal/cluster"
	"github.com/wardlea/diarist/internal/cluster/replay"
	"github.com/wardlea/diarist/internal/cluster/unknown"
	"github.com/wardlea/diarist/internal/observe"
	"github.com/wardlea/diarist/pkg/types"
)

// Channel is the per-input-channel resolution pipeline. The engine and
// clusterer are order-dependent, so all processing for one channel is
// serialized behind the channel's mutex; the ordering guarantee applies only
// within the channel.
type Channel struct {
	name string

	mu      sync.Mutex
	engine  *cluster.Engine
	unknown *unknown.Clusterer
	history []types.Segment

	metrics *observe.Metrics
}

// newChannel wires a primary engine to an unknown clusterer. The engine's
// handoff mode is enabled so unplaceable segments reach the clusterer
// instead of degrading in place.
func newChannel(name string, eng *cluster.Engine, uc *unknown.Clusterer, metrics *observe.Metrics) *Channel {
	eng.EnableHandoff()
	return &Channel{
		name:    name,
		engine:  eng,
		unknown: uc,
		metrics: metrics,
	}
}

// Name returns the channel's configured name.
func (c *Channel) Name() string { return c.name }

// Process classifies one segment, appends it to the channel history with its
// assignment stamped, and returns the decision plus the segment's history
// index. The context is used only for metric recording; the decision path
// itself never blocks.
func (c *Channel) Process(ctx context.Context, seg types.Segment) (types.Decision, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	speakersBefore := c.engine.Len()
	clustersBefore := c.unknown.Len()

	d := c.resolve(&seg)
	c.history = append(c.history, seg)

	c.metrics.RecordDecision(ctx, c.name, string(d.Reason), d.Forced, time.Since(start))
	c.metrics.AddTrackedSpeakers(ctx, c.name, int64(c.engine.Len()-speakersBefore))
	c.metrics.AddUnknownClusters(ctx, c.name, int64(c.unknown.Len()-clustersBefore))

	return d, len(c.history) - 1
}

// resolve runs the two-tier decision: primary engine first, then the unknown
// clusterer for segments the engine could not confidently place. The
// segment's SpeakerID is stamped with the result. Callers hold c.mu.
func (c *Channel) resolve(seg *types.Segment) types.Decision {
	d := c.engine.Assign(seg.Embedding)
	if d.Reason == types.ReasonNoConfidentMatch {
		hints := c.engine.EnrolledSimilarities(seg.Embedding)
		r := c.unknown.Process(seg.Embedding, hints)
		d = types.Decision{
			SpeakerID:       r.ID,
			Reason:          r.Reason,
			Similarity:      r.Similarity,
			Margin:          r.Margin,
			Forced:          r.Forced,
			RunnerUpID:      types.SpeakerNone,
			Folded:          r.Folded,
			ClosestEnrolled: r.ClosestEnrolled,
		}
	}
	seg.SpeakerID = d.SpeakerID
	seg.Folded = d.Folded
	return d
}

// Resolve implements [replay.Resolver].
func (c *Channel) Resolve(seg *types.Segment) types.Decision {
	return c.resolve(seg)
}

// Undo implements [replay.Resolver]: it routes the inverse centroid update to
// the primary engine for non-negative ids and to the unknown clusterer for
// pseudo-speaker ids. Best-effort: a refused undo never blocks replay.
func (c *Channel) Undo(speakerID int, e []float32) bool {
	if types.IsUnknownID(speakerID) {
		return c.unknown.RemoveFromCluster(speakerID, e)
	}
	if speakerID >= 0 {
		return c.engine.RemoveFromCentroid(speakerID, e)
	}
	return false
}

// Label implements [replay.Resolver].
func (c *Channel) Label(id int) string {
	if types.IsUnknownID(id) {
		return unknown.Label(id)
	}
	return c.engine.Label(id)
}

// DisplayLabel is the lock-taking variant of [Channel.Label] for callers
// outside the replay path.
func (c *Channel) DisplayLabel(id int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Label(id)
}

// Recluster re-decides the channel history from index from onward and
// returns the diff of changed assignments. Used after a mid-session
// enrollment or a manual re-label.
func (c *Channel) Recluster(ctx context.Context, from int) []replay.Change {
	c.mu.Lock()
	defer c.mu.Unlock()

	changes := replay.FromIndex(c, c.history, from)
	c.metrics.AddReplayChanges(ctx, c.name, int64(len(changes)))
	return changes
}

// ImportEnrolled replaces the channel engine's enrolled set with the given
// snapshot. Must be called before the channel's first utterance for enrolled
// voices to be recognised from the start.
func (c *Channel) ImportEnrolled(list []types.EnrolledSpeaker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.engine.ImportEnrolled(list)
}

// ExportEnrolled returns the engine's current enrolled set in wire shape.
func (c *Channel) ExportEnrolled() []types.EnrolledSpeaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.ExportEnrolled()
}

// History returns a copy of the channel's ordered segment history.
func (c *Channel) History() []types.Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Segment, len(c.history))
	copy(out, c.history)
	return out
}

// Speakers returns snapshots of the channel's live primary speakers.
func (c *Channel) Speakers() []cluster.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Speakers()
}

// UnknownSpeakers lists the channel's reportable pseudo-speakers.
func (c *Channel) UnknownSpeakers() []unknown.Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unknown.All()
}
