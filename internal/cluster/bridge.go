package cluster

import (
	"log/slog"

	"github.com/wardlea/diarist/pkg/embedding"
	"github.com/wardlea/diarist/pkg/types"
)

// ImportEnrolled replaces the engine's enrolled set with the given snapshot.
// It does not merge: every previously enrolled record is retired (its id
// becomes a permanent hole, so historical decisions stay resolvable) and the
// new entries are appended in their given order. Discovered speakers are
// untouched. Entries without a centroid are skipped with a warning.
//
// This is the only channel by which enrolled identity propagates between
// independently instantiated engines — a point-in-time snapshot copy, not a
// live subscription. A per-channel engine must be imported into before its
// first utterance or it will treat enrolled voices as undiscovered.
func (eng *Engine) ImportEnrolled(list []types.EnrolledSpeaker) {
	for _, sp := range eng.speakers {
		if sp.live() && sp.enrolled {
			sp.retired = true
		}
	}

	imported := 0
	for _, e := range list {
		if len(e.Centroid) == 0 {
			slog.Warn("skipping enrolled speaker without centroid", "enrollment_id", e.ID, "name", e.Name)
			continue
		}
		if eng.dim != 0 && len(e.Centroid) != eng.dim {
			slog.Warn("skipping enrolled speaker with mismatched dimension",
				"enrollment_id", e.ID, "got", len(e.Centroid), "want", eng.dim)
			continue
		}
		if eng.dim == 0 {
			eng.dim = len(e.Centroid)
		}
		unit := embedding.Normalize(e.Centroid)
		eng.speakers = append(eng.speakers, &speaker{
			id:           len(eng.speakers),
			enrolled:     true,
			enrollmentID: e.ID,
			name:         e.Name,
			colorIndex:   e.ColorIndex,
			mean:         unit,
			centroid:     embedding.Clone(unit),
			sampleCount:  1,
		})
		imported++
	}
	slog.Debug("imported enrolled speakers", "imported", imported, "skipped", len(list)-imported)
}

// ExportEnrolled serializes the live enrolled records, in import order, as
// the plain wire shape the storage layer consumes. Discovered speakers are
// never exported — their identity is meaningless outside this engine's
// session.
func (eng *Engine) ExportEnrolled() []types.EnrolledSpeaker {
	var out []types.EnrolledSpeaker
	for _, sp := range eng.speakers {
		if !sp.live() || !sp.enrolled {
			continue
		}
		out = append(out, types.EnrolledSpeaker{
			ID:         sp.enrollmentID,
			Name:       sp.name,
			Centroid:   embedding.Clone(sp.centroid),
			ColorIndex: sp.colorIndex,
		})
	}
	return out
}
