package cluster

import (
	"fmt"

	"github.com/wardlea/diarist/pkg/embedding"
)

// speaker is one matched identity in the engine's arena. The slice index in
// [Engine.speakers] equals ID for the engine's lifetime; slots are never
// compacted or reused, so historical decisions referencing an id stay valid
// for replay.
type speaker struct {
	id int

	// enrolled records originate from an enrollment registry snapshot and
	// carry a registry id, display name, and color index.
	enrolled     bool
	enrollmentID string
	name         string
	colorIndex   int

	// retired marks an enrolled slot vacated by a later import. Retired
	// slots are holes: skipped by scoring, kept so ids stay stable.
	retired bool

	// mean is the raw (unnormalized) running mean of all folded samples.
	// Keeping the raw mean is what makes the undo arithmetic an exact
	// inverse; the unit-length centroid is derived from it.
	mean        []float32
	centroid    []float32
	sampleCount int
}

func (s *speaker) live() bool {
	return s != nil && !s.retired
}

// fold adds sample e into the running mean and refreshes the centroid.
func (s *speaker) fold(e []float32) bool {
	m := embedding.Fold(s.mean, e, s.sampleCount)
	if m == nil {
		return false
	}
	s.mean = m
	s.centroid = embedding.Normalize(m)
	s.sampleCount++
	return true
}

// unfold removes sample e from the running mean and refreshes the centroid.
func (s *speaker) unfold(e []float32) bool {
	m := embedding.Unfold(s.mean, e, s.sampleCount)
	if m == nil {
		return false
	}
	s.mean = m
	s.centroid = embedding.Normalize(m)
	s.sampleCount--
	return true
}

// Snapshot is a read-only copy of one speaker record, safe to retain.
type Snapshot struct {
	ID           int
	Name         string
	Enrolled     bool
	EnrollmentID string
	ColorIndex   int
	Centroid     []float32
	SampleCount  int
}

func (s *speaker) snapshot() Snapshot {
	return Snapshot{
		ID:           s.id,
		Name:         s.name,
		Enrolled:     s.enrolled,
		EnrollmentID: s.enrollmentID,
		ColorIndex:   s.colorIndex,
		Centroid:     embedding.Clone(s.centroid),
		SampleCount:  s.sampleCount,
	}
}

// Label returns the display label for a primary speaker id: the enrolled name
// when known, "Speaker N" otherwise.
func (s *speaker) label() string {
	if s.enrolled && s.name != "" {
		return s.name
	}
	return fmt.Sprintf("Speaker %d", s.id+1)
}
