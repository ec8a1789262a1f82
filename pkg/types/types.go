// Package types defines the shared data model used across all diarist packages.
//
// These types form the lingua franca between the clustering engine, the
// unknown-speaker clusterer, the correction replayer, and the session layer.
// They are intentionally minimal — each package defines its own domain types,
// but cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// SpeakerNone is the sentinel id meaning "nothing assigned". It is distinct
// from unknown-cluster ids, which start at [UnknownBase] and decrease.
const SpeakerNone = -1

// UnknownBase is the id of the first unknown pseudo-speaker cluster. The
// second cluster gets UnknownBase-1, the third UnknownBase-2, and so on, so
// every unknown id is ≤ UnknownBase and never collides with [SpeakerNone] or
// with the primary engine's non-negative speaker ids.
const UnknownBase = -100

// IsUnknownID reports whether id names an unknown pseudo-speaker cluster
// rather than a primary speaker or the [SpeakerNone] sentinel.
func IsUnknownID(id int) bool {
	return id <= UnknownBase && id != SpeakerNone
}

// Reason classifies how an utterance was assigned to a speaker. It is a
// closed enumeration: downstream consumers are expected to handle every
// value exhaustively.
type Reason string

const (
	// ReasonNoEmbedding means the segment carried no embedding vector; the
	// decision is a degenerate default and no state was mutated.
	ReasonNoEmbedding Reason = "no_embedding"

	// ReasonNewSpeaker means a new discovered speaker record was created for
	// this segment.
	ReasonNewSpeaker Reason = "new_speaker"

	// ReasonConfidentMatch means the best candidate cleared both the
	// similarity threshold and the confidence margin.
	ReasonConfidentMatch Reason = "confident_match"

	// ReasonAmbiguousMatch means the best candidate cleared the similarity
	// threshold but the runner-up was too close; the best candidate is still
	// assigned, with the ambiguity flagged for UI disclosure.
	ReasonAmbiguousMatch Reason = "ambiguous_match"

	// ReasonBelowMinimumThreshold means the speaker cap prevented creating a
	// new record and the segment was force-assigned to the closest existing
	// speaker despite falling below the normal thresholds.
	ReasonBelowMinimumThreshold Reason = "below_minimum_threshold"

	// ReasonNoConfidentMatch means the primary engine could not place the
	// segment and handed it off to the unknown-speaker clusterer.
	ReasonNoConfidentMatch Reason = "no_confident_match"

	// ReasonUnknownNewCluster means the unknown clusterer created a fresh
	// pseudo-speaker cluster for the segment.
	ReasonUnknownNewCluster Reason = "unknown_new_cluster"

	// ReasonUnknownClusterMatch means the segment joined an existing unknown
	// pseudo-speaker cluster.
	ReasonUnknownClusterMatch Reason = "unknown_cluster_match"

	// ReasonInherited means the assignment was carried over from a prior
	// session or chunk without fresh evidence.
	ReasonInherited Reason = "inherited"

	// ReasonBoostedMatch is reserved for an upstream confidence-boosting
	// collaborator. No component in this repository emits it.
	ReasonBoostedMatch Reason = "boosted_match"
)

// IsValid reports whether r is a recognised assignment reason.
func (r Reason) IsValid() bool {
	switch r {
	case ReasonNoEmbedding, ReasonNewSpeaker, ReasonConfidentMatch,
		ReasonAmbiguousMatch, ReasonBelowMinimumThreshold,
		ReasonNoConfidentMatch, ReasonUnknownNewCluster,
		ReasonUnknownClusterMatch, ReasonInherited, ReasonBoostedMatch:
		return true
	}
	return false
}

// Decision is the per-utterance output of identity resolution. Decisions are
// ephemeral — one per utterance, consumed by the transcript merger and UI,
// never persisted.
type Decision struct {
	// SpeakerID is the assigned identity: non-negative for a primary-engine
	// speaker (enrolled or discovered), ≤ [UnknownBase] for an unknown
	// pseudo-speaker.
	SpeakerID int

	// Reason classifies how the assignment was made.
	Reason Reason

	// Similarity is the cosine similarity to the assigned record's centroid;
	// for a [ReasonNewSpeaker] decision it is the similarity to the closest
	// pre-existing candidate instead. Zero when Reason is [ReasonNoEmbedding]
	// or when no other candidates existed.
	Similarity float64

	// Margin is the gap between the best and second-best candidate
	// similarity. Zero when fewer than two candidates existed.
	Margin float64

	// IsEnrolled indicates the assigned speaker is a pre-enrolled voice.
	IsEnrolled bool

	// Forced indicates the assignment was made despite being below the
	// normal confidence threshold, because a cardinality cap prevented
	// creating a new identity.
	Forced bool

	// RunnerUpID is the second-best candidate when Reason is
	// [ReasonAmbiguousMatch] (for "Speaker A (Speaker B?)" style display),
	// [SpeakerNone] otherwise.
	RunnerUpID int

	// Folded reports whether the embedding was averaged into the assigned
	// record's centroid. Ambiguous and forced assignments leave centroids
	// untouched; correction replay must only undo contributions that were
	// actually made.
	Folded bool

	// ClosestEnrolled is the nearest enrolled voice hint for unknown-cluster
	// assignments. Nil on the primary path.
	ClosestEnrolled *EnrolledHint
}

// EnrolledHint records the nearest enrolled voice to an unknown segment —
// close enough to mention, not close enough to match.
type EnrolledHint struct {
	Name       string  `json:"name"`
	Similarity float64 `json:"similarity"`
}

// Segment is one utterance as recorded in a session's ordered history. The
// upstream transcription pipeline produces segments; the core only reads
// Embedding and Environmental and writes SpeakerID after each decision.
type Segment struct {
	// Text is the transcribed phrase. Informational; the core never inspects it.
	Text string `json:"text"`

	// Embedding is the unit-length voice embedding for this phrase, or nil
	// when the upstream extractor produced none.
	Embedding []float32 `json:"embedding,omitempty"`

	// SpeakerID is the currently assigned identity for this segment.
	SpeakerID int `json:"speaker_id"`

	// Environmental marks non-speech segments (door slams, music). These are
	// skipped by correction replay.
	Environmental bool `json:"environmental,omitempty"`

	// Folded mirrors [Decision.Folded] for the segment's current assignment.
	// In-process bookkeeping only, never serialized: replay consults it to
	// decide whether the segment has a centroid contribution to undo.
	Folded bool `json:"-"`

	// Start is the utterance start time relative to session start.
	Start time.Duration `json:"start"`

	// Duration is the length of the utterance.
	Duration time.Duration `json:"duration"`
}

// EnrolledSpeaker is the wire shape for one pre-enrolled voice, as produced
// by an enrollment registry snapshot, consumed by the engine's import, and
// serialized back out by export. Centroid is a plain numeric sequence for
// storage-layer consumption.
type EnrolledSpeaker struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Centroid   []float32 `json:"centroid"`
	ColorIndex int       `json:"color_index"`
}

// UnknownClusterSnapshot is the serialized form of one unknown pseudo-speaker
// cluster.
type UnknownClusterSnapshot struct {
	ID              int           `json:"id"`
	Centroid        []float32     `json:"centroid"`
	Count           int           `json:"count"`
	ClosestEnrolled *EnrolledHint `json:"closest_enrolled,omitempty"`
}
