// Package replay implements retroactive correction: when a voice is enrolled
// mid-session or a past assignment is judged wrong, a suffix of the session's
// ordered segment list is re-decided through the same primary and secondary
// engines, without touching raw audio.
package replay

import (
	"github.com/wardlea/diarist/pkg/types"
)

// Resolver is the identity-resolution surface replay drives. The session
// layer's resolver satisfies it; tests may substitute their own.
type Resolver interface {
	// Resolve classifies the segment and stamps its SpeakerID and Folded
	// marker.
	Resolve(seg *types.Segment) types.Decision

	// Undo removes an embedding's past contribution from the identified
	// speaker's (or unknown cluster's) centroid. Best-effort: it reports
	// false for enrolled anchors and founding samples, and replay proceeds
	// regardless.
	Undo(speakerID int, e []float32) bool

	// Label returns the display label for a speaker or pseudo-speaker id.
	Label(id int) string
}

// Change records one segment whose assignment changed during replay. Segments
// that re-resolved to their previous speaker do not appear in the diff, so a
// caller can patch a displayed transcript without a full re-render.
type Change struct {
	// Index is the segment's position in the replayed slice.
	Index int

	// OldSpeaker and NewSpeaker are the assignments before and after.
	OldSpeaker int
	NewSpeaker int

	// NewLabel is the display label for NewSpeaker.
	NewLabel string

	// Reason is the fresh decision's reason.
	Reason types.Reason
}

// FromIndex replays segments[from:] in order: each segment's prior
// contribution — if it was ever folded into a centroid — is undone
// (best-effort), the segment is re-decided, and its SpeakerID is updated in
// place. Ambiguous and forced assignments never folded, so they have nothing
// to undo; subtracting them anyway would drain sample counts and drift
// centroids on every replay. Segments flagged environmental or lacking an
// embedding are skipped. The returned diff lists only segments whose
// assignment actually changed.
//
// Replay is deterministic given the same resolver state and segment order: it
// consults no clock, no randomness, and no unordered collection.
func FromIndex(r Resolver, segments []types.Segment, from int) []Change {
	if from < 0 {
		from = 0
	}

	var changes []Change
	for i := from; i < len(segments); i++ {
		seg := &segments[i]
		if seg.Environmental || len(seg.Embedding) == 0 {
			continue
		}

		old := seg.SpeakerID
		if seg.Folded {
			r.Undo(old, seg.Embedding)
		}

		d := r.Resolve(seg)
		if d.SpeakerID == old {
			continue
		}
		changes = append(changes, Change{
			Index:      i,
			OldSpeaker: old,
			NewSpeaker: d.SpeakerID,
			NewLabel:   r.Label(d.SpeakerID),
			Reason:     d.Reason,
		})
	}
	return changes
}
