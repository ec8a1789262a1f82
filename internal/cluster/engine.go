// Package cluster implements the primary speaker clustering engine: an
// online, order-dependent classifier that assigns each utterance embedding to
// an enrolled or discovered speaker identity, or reports that no confident
// match exists.
//
// The engine is synchronous and single-writer by design: running-average
// centroid updates and margin comparisons are not commutative, so every
// utterance must be processed to completion before the next is accepted.
// Callers sharing an engine across goroutines must serialize access
// themselves; the session layer does this per input channel.
package cluster

import (
	"log/slog"
	"sort"

	"github.com/wardlea/diarist/pkg/embedding"
	"github.com/wardlea/diarist/pkg/types"
)

// enrolledTieBreak is the similarity band within which an enrolled candidate
// outranks a better-scoring discovered one. Near-ties resolve toward a known
// identity rather than letting a duplicate discovered speaker absorb the
// segment.
const enrolledTieBreak = 0.05

// Config tunes an [Engine]. The zero value is not usable; construct through
// [New], which fills unset thresholds with their defaults.
type Config struct {
	// NumSpeakers caps how many identities (enrolled + discovered) the
	// engine tracks. Callers are expected to pass a value already clamped
	// to a sane range; New clamps to at least 1 defensively.
	NumSpeakers int

	// SimilarityThreshold is the cosine similarity a candidate must reach
	// to be considered a match.
	SimilarityThreshold float64

	// MinimumSimilarityThreshold is the floor below which a segment is not
	// close to any tracked identity.
	MinimumSimilarityThreshold float64

	// ConfidenceMargin is the minimum best-to-second-best gap for a match
	// to count as confident.
	ConfidenceMargin float64

	// UpdateEnrolledCentroids lets confident live matches refine enrolled
	// centroids. Default false: enrolled centroids are fixed anchors, so a
	// long session cannot drift a known voice's reference vector.
	UpdateEnrolledCentroids bool

	// Handoff routes segments the engine cannot place to a secondary
	// unknown-speaker clusterer instead of degrading in place. The session
	// layer enables it when a clusterer is attached. Without handoff the
	// engine degrades gracefully: below the cap an unplaceable segment
	// founds a new speaker, at the cap it is force-assigned to the closest
	// existing one.
	Handoff bool
}

// Engine assigns a stable speaker identity to each utterance embedding,
// processed strictly in arrival order. Not safe for concurrent use.
type Engine struct {
	cfg      Config
	speakers []*speaker
	dim      int
}

// New constructs an [Engine]. Unset thresholds take the documented defaults
// (0.75 similarity, 0.5 minimum, 0.15 margin); NumSpeakers is raised to 1 if
// lower.
func New(cfg Config) *Engine {
	if cfg.NumSpeakers < 1 {
		cfg.NumSpeakers = 1
	}
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.75
	}
	if cfg.MinimumSimilarityThreshold == 0 {
		cfg.MinimumSimilarityThreshold = 0.5
	}
	if cfg.ConfidenceMargin == 0 {
		cfg.ConfidenceMargin = 0.15
	}
	return &Engine{cfg: cfg}
}

// EnableHandoff switches the engine to hand unplaceable segments to a
// secondary clusterer instead of degrading in place. Called by the session
// layer when it attaches an unknown-speaker clusterer.
func (eng *Engine) EnableHandoff() { eng.cfg.Handoff = true }

// score pairs a live speaker with its cosine similarity to the probe.
type score struct {
	sp  *speaker
	sim float64
}

// scoreAll is the read-only pass: cosine similarity of e against every live
// record, sorted by descending similarity with stable id order on exact ties
// so replay is deterministic.
func (eng *Engine) scoreAll(e []float32) []score {
	scores := make([]score, 0, len(eng.speakers))
	for _, sp := range eng.speakers {
		if !sp.live() {
			continue
		}
		scores = append(scores, score{sp: sp, sim: embedding.Cosine(sp.centroid, e)})
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].sim != scores[j].sim {
			return scores[i].sim > scores[j].sim
		}
		return scores[i].sp.id < scores[j].sp.id
	})
	return scores
}

// liveCount returns how many identities (enrolled + discovered) are tracked.
func (eng *Engine) liveCount() int {
	n := 0
	for _, sp := range eng.speakers {
		if sp.live() {
			n++
		}
	}
	return n
}

// Assign classifies one utterance embedding and returns the decision. State
// is mutated only on the paths that create a speaker or fold the embedding
// into a centroid; every failure mode is a decision reason, never an error.
//
// A nil embedding returns a degenerate default (speaker 0, no_embedding)
// without creating any record. An embedding whose dimension disagrees with
// the engine's is treated the same way — a safe no-op rather than a panic.
func (eng *Engine) Assign(e []float32) types.Decision {
	if len(e) == 0 || (eng.dim != 0 && len(e) != eng.dim) {
		if eng.dim != 0 && len(e) != 0 {
			slog.Warn("embedding dimension mismatch; treating as no embedding",
				"got", len(e), "want", eng.dim)
		}
		return types.Decision{SpeakerID: 0, Reason: types.ReasonNoEmbedding, RunnerUpID: types.SpeakerNone}
	}
	if eng.dim == 0 {
		eng.dim = len(e)
	}

	scores := eng.scoreAll(e)
	if len(scores) == 0 {
		sp := eng.addDiscovered(e)
		return types.Decision{SpeakerID: sp.id, Reason: types.ReasonNewSpeaker, RunnerUpID: types.SpeakerNone, Folded: true}
	}

	// Margin always reflects the raw similarity ranking, even when the
	// enrolled tie-break reorders the winner below.
	best := scores[0]
	margin := 0.0
	runnerUp := types.SpeakerNone
	if len(scores) > 1 {
		margin = scores[0].sim - scores[1].sim
		runnerUp = scores[1].sp.id
	}

	// Enrolled priority: a known identity within the tie-break band of a
	// discovered front-runner wins the assignment.
	if !best.sp.enrolled {
		for _, s := range scores[1:] {
			if !s.sp.enrolled {
				continue
			}
			if s.sim >= best.sim-enrolledTieBreak {
				runnerUp = best.sp.id
				best = s
			}
			break
		}
	}

	// A lone candidate has margin 0 by definition, but there is no runner-up
	// to be ambiguous against.
	confident := len(scores) < 2 || margin >= eng.cfg.ConfidenceMargin

	cfg := eng.cfg
	switch {
	case best.sim >= cfg.SimilarityThreshold && confident:
		folded := eng.foldInto(best.sp, e)
		return types.Decision{
			SpeakerID:  best.sp.id,
			Reason:     types.ReasonConfidentMatch,
			Similarity: best.sim,
			Margin:     margin,
			IsEnrolled: best.sp.enrolled,
			RunnerUpID: types.SpeakerNone,
			Folded:     folded,
		}

	case best.sim >= cfg.SimilarityThreshold:
		// Refusing to assign would stall the transcript; assign the best
		// candidate and disclose the ambiguity. The sample is not folded —
		// averaging an ambiguous sample into the wrong centroid would drag
		// two speakers together.
		return types.Decision{
			SpeakerID:  best.sp.id,
			Reason:     types.ReasonAmbiguousMatch,
			Similarity: best.sim,
			Margin:     margin,
			IsEnrolled: best.sp.enrolled,
			RunnerUpID: runnerUp,
		}

	case best.sim >= cfg.MinimumSimilarityThreshold && eng.liveCount() < cfg.NumSpeakers:
		sp := eng.addDiscovered(e)
		return types.Decision{
			SpeakerID:  sp.id,
			Reason:     types.ReasonNewSpeaker,
			Similarity: best.sim,
			Margin:     margin,
			RunnerUpID: types.SpeakerNone,
			Folded:     true,
		}

	case cfg.Handoff:
		// Below the minimum floor, or at capacity with nothing confidently
		// close: the secondary clusterer takes over. No state mutation here.
		return types.Decision{
			SpeakerID:  types.SpeakerNone,
			Reason:     types.ReasonNoConfidentMatch,
			Similarity: best.sim,
			Margin:     margin,
			RunnerUpID: types.SpeakerNone,
		}

	case eng.liveCount() < cfg.NumSpeakers:
		// No secondary clusterer attached: an unplaceable segment founds a
		// new identity while capacity remains.
		sp := eng.addDiscovered(e)
		return types.Decision{
			SpeakerID:  sp.id,
			Reason:     types.ReasonNewSpeaker,
			Similarity: best.sim,
			Margin:     margin,
			RunnerUpID: types.SpeakerNone,
			Folded:     true,
		}

	default:
		// At capacity with no confident match and nowhere to hand off:
		// forced assignment to the closest candidate. Degrades gracefully
		// rather than growing the speaker set without bound.
		return types.Decision{
			SpeakerID:  best.sp.id,
			Reason:     types.ReasonBelowMinimumThreshold,
			Similarity: best.sim,
			Margin:     margin,
			IsEnrolled: best.sp.enrolled,
			Forced:     true,
			RunnerUpID: types.SpeakerNone,
		}
	}
}

// foldInto applies the single write of an assignment: the embedding is
// averaged into the winner's centroid. Enrolled centroids are fixed anchors
// unless the engine was configured to update them. Reports whether the fold
// actually happened so the decision can record it for later undo.
func (eng *Engine) foldInto(sp *speaker, e []float32) bool {
	if sp.enrolled && !eng.cfg.UpdateEnrolledCentroids {
		return false
	}
	return sp.fold(e)
}

// addDiscovered appends a new discovered speaker founded on e.
func (eng *Engine) addDiscovered(e []float32) *speaker {
	sp := &speaker{
		id:          len(eng.speakers),
		mean:        embedding.Normalize(e),
		centroid:    embedding.Normalize(e),
		sampleCount: 1,
	}
	eng.speakers = append(eng.speakers, sp)
	slog.Debug("discovered new speaker", "speaker_id", sp.id, "tracked", eng.liveCount())
	return sp
}

// RemoveFromCentroid undoes one embedding's contribution to a discovered
// speaker's centroid via the exact inverse of the running-average update. It
// returns false without mutating anything when the id is out of range or
// retired, the speaker is enrolled (anchors stay immutable in the correction
// path), the sample count is ≤ 1 (removing the founding sample would leave an
// undefined centroid), or the dimensions disagree.
func (eng *Engine) RemoveFromCentroid(id int, e []float32) bool {
	if id < 0 || id >= len(eng.speakers) {
		return false
	}
	sp := eng.speakers[id]
	if !sp.live() || sp.enrolled || sp.sampleCount <= 1 {
		return false
	}
	return sp.unfold(e)
}

// EnrolledSimilarities returns every live enrolled candidate's similarity to
// e, sorted by descending similarity. The unknown clusterer uses this for its
// closest-enrolled bookkeeping.
func (eng *Engine) EnrolledSimilarities(e []float32) []types.EnrolledHint {
	var hints []types.EnrolledHint
	for _, s := range eng.scoreAll(e) {
		if s.sp.enrolled {
			hints = append(hints, types.EnrolledHint{Name: s.sp.name, Similarity: s.sim})
		}
	}
	return hints
}

// Label returns the display label for a primary speaker id, or "" when the
// id names no live record.
func (eng *Engine) Label(id int) string {
	if id < 0 || id >= len(eng.speakers) || !eng.speakers[id].live() {
		return ""
	}
	return eng.speakers[id].label()
}

// Speaker returns a read-only snapshot of one record.
func (eng *Engine) Speaker(id int) (Snapshot, bool) {
	if id < 0 || id >= len(eng.speakers) || !eng.speakers[id].live() {
		return Snapshot{}, false
	}
	return eng.speakers[id].snapshot(), true
}

// Speakers returns snapshots of all live records in id order.
func (eng *Engine) Speakers() []Snapshot {
	out := make([]Snapshot, 0, len(eng.speakers))
	for _, sp := range eng.speakers {
		if sp.live() {
			out = append(out, sp.snapshot())
		}
	}
	return out
}

// Len returns the number of live identities tracked.
func (eng *Engine) Len() int { return eng.liveCount() }
