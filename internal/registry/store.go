// Package registry implements the enrollment registry: the store of named,
// pre-enrolled voices whose reference centroids anchor live clustering.
//
// The clustering core never talks to a store directly — it consumes a
// point-in-time [Store.Snapshot] through the session layer. Enrollment itself
// (capturing samples, averaging them into a reference centroid) happens in an
// out-of-scope workflow that writes into one of these stores.
package registry

import (
	"context"
	"errors"

	"github.com/wardlea/diarist/pkg/types"
)

// ErrNotFound is returned when the requested enrollment does not exist.
var ErrNotFound = errors.New("enrolled speaker not found")

// ErrDuplicateID is returned by Add when an enrollment with the same ID
// already exists.
var ErrDuplicateID = errors.New("enrolled speaker with that ID already exists")

// Store manages enrolled speaker records.
//
// All implementations must be safe for concurrent use and must preserve
// enrollment order in [Store.Snapshot]: the engine's import keeps relative
// order, and stable ordering keeps replay deterministic across restarts.
type Store interface {
	// Add creates a new enrollment. Returns the record with a generated ID
	// if the provided record's ID is empty.
	// Returns [ErrDuplicateID] if a record with the same non-empty ID exists.
	Add(ctx context.Context, sp types.EnrolledSpeaker) (types.EnrolledSpeaker, error)

	// Get retrieves an enrollment by ID.
	// Returns [ErrNotFound] when no record with that ID exists.
	Get(ctx context.Context, id string) (types.EnrolledSpeaker, error)

	// Snapshot returns all enrollments in enrollment order. This is the
	// list handed to engine imports.
	Snapshot(ctx context.Context) ([]types.EnrolledSpeaker, error)

	// Update replaces an existing enrollment. The record's ID must be
	// non-empty. Returns [ErrNotFound] when no record with that ID exists.
	Update(ctx context.Context, sp types.EnrolledSpeaker) error

	// Remove deletes an enrollment by ID.
	// Returns [ErrNotFound] when no record with that ID exists.
	Remove(ctx context.Context, id string) error
}
