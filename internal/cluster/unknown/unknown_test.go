package unknown_test

import (
	"math"
	"testing"

	"github.com/wardlea/diarist/internal/cluster/unknown"
	"github.com/wardlea/diarist/pkg/embedding"
	"github.com/wardlea/diarist/pkg/types"
)

var (
	voiceX = []float32{1, 0, 0, 0}
	voiceY = []float32{0, 1, 0, 0}
	voiceZ = []float32{0, 0, 1, 0}
)

func TestProcess_ClusterFormation(t *testing.T) {
	t.Parallel()

	c := unknown.New(unknown.Config{MaxClusters: 2, MinSegments: 2})

	// First segment founds the base cluster.
	r := c.Process(voiceX, nil)
	if r.ID != types.UnknownBase || r.Reason != types.ReasonUnknownNewCluster {
		t.Fatalf("first: got (%d, %s), want (%d, %s)", r.ID, r.Reason, types.UnknownBase, types.ReasonUnknownNewCluster)
	}

	// A near-repeat joins it.
	r = c.Process(embedding.Normalize([]float32{0.9, 0.1, 0, 0}), nil)
	if r.ID != types.UnknownBase || r.Reason != types.ReasonUnknownClusterMatch {
		t.Fatalf("repeat: got (%d, %s), want (%d, %s)", r.ID, r.Reason, types.UnknownBase, types.ReasonUnknownClusterMatch)
	}

	// A distinct voice founds the next cluster, one id further down.
	r = c.Process(voiceY, nil)
	if r.ID != types.UnknownBase-1 || r.Reason != types.ReasonUnknownNewCluster {
		t.Fatalf("second voice: got (%d, %s), want (%d, %s)", r.ID, r.Reason, types.UnknownBase-1, types.ReasonUnknownNewCluster)
	}

	// At the cap a third distinct voice is forced into the closest cluster.
	r = c.Process(voiceZ, nil)
	if r.Reason != types.ReasonUnknownClusterMatch || !r.Forced {
		t.Fatalf("over-cap: got (%s, forced=%v), want (%s, forced=true)", r.Reason, r.Forced, types.ReasonUnknownClusterMatch)
	}
	if c.Len() != 2 {
		t.Errorf("clusters = %d, want 2 (cap must hold)", c.Len())
	}

	for _, id := range []int{r.ID, types.UnknownBase, types.UnknownBase - 1} {
		if !types.IsUnknownID(id) {
			t.Errorf("id %d escapes the unknown range", id)
		}
	}
}

func TestProcess_NoEmbedding(t *testing.T) {
	t.Parallel()

	c := unknown.New(unknown.Config{})
	r := c.Process(nil, nil)
	if r.ID != types.UnknownBase || r.Reason != types.ReasonNoEmbedding {
		t.Errorf("got (%d, %s), want (%d, %s)", r.ID, r.Reason, types.UnknownBase, types.ReasonNoEmbedding)
	}
	if c.Len() != 0 {
		t.Errorf("clusters = %d, want 0", c.Len())
	}
}

func TestProcess_ClosestEnrolledConsensus(t *testing.T) {
	t.Parallel()

	c := unknown.New(unknown.Config{MaxClusters: 3, MinSegments: 1})

	c.Process(voiceX, []types.EnrolledHint{{Name: "Ada", Similarity: 0.6}})
	c.Process(embedding.Normalize([]float32{0.9, 0.1, 0, 0}), []types.EnrolledHint{{Name: "Ada", Similarity: 0.7}})
	r := c.Process(embedding.Normalize([]float32{0.95, 0.05, 0, 0}), []types.EnrolledHint{{Name: "Bea", Similarity: 0.65}})

	if r.ClosestEnrolled == nil {
		t.Fatal("ClosestEnrolled = nil, want consensus hint")
	}
	if r.ClosestEnrolled.Name != "Ada" {
		t.Errorf("consensus = %q, want Ada (2 of 3 occurrences)", r.ClosestEnrolled.Name)
	}
	if want := (0.6 + 0.7) / 2; math.Abs(r.ClosestEnrolled.Similarity-want) > 1e-9 {
		t.Errorf("consensus similarity = %v, want %v", r.ClosestEnrolled.Similarity, want)
	}

	infos := c.All()
	if len(infos) != 1 || infos[0].Aggregate == nil {
		t.Fatalf("All() = %+v, want one cluster with an aggregate", infos)
	}
	agg := infos[0].Aggregate
	if agg.Name != "Ada" || agg.Occurrences != 2 || agg.TotalSegments != 3 {
		t.Errorf("aggregate = %+v, want Ada with 2 occurrences over 3 segments", agg)
	}
}

func TestProcess_IgnoresDistantEnrolledHints(t *testing.T) {
	t.Parallel()

	c := unknown.New(unknown.Config{MaxClusters: 3, MinSegments: 1})
	r := c.Process(voiceX, []types.EnrolledHint{{Name: "Ada", Similarity: 0.1}})
	if r.ClosestEnrolled != nil {
		t.Errorf("ClosestEnrolled = %+v, want nil for a hint below the floor", r.ClosestEnrolled)
	}
}

func TestAll_FiltersAndScoresConfidence(t *testing.T) {
	t.Parallel()

	c := unknown.New(unknown.Config{MaxClusters: 3, MinSegments: 2})

	c.Process(voiceX, nil)
	c.Process(voiceY, nil) // second cluster, stays a singleton
	for i := 0; i < 12; i++ {
		c.Process(voiceX, nil)
	}

	infos := c.All()
	if len(infos) != 1 {
		t.Fatalf("All() reported %d clusters, want 1 (singleton filtered)", len(infos))
	}
	if infos[0].ID != types.UnknownBase {
		t.Errorf("reported id = %d, want %d", infos[0].ID, types.UnknownBase)
	}
	if infos[0].Label != "Unknown 1" {
		t.Errorf("label = %q, want Unknown 1", infos[0].Label)
	}
	// 13 segments: 0.5 + 0.05·13 exceeds the cap.
	if infos[0].Confidence != 0.9 {
		t.Errorf("confidence = %v, want capped 0.9", infos[0].Confidence)
	}

	c2 := unknown.New(unknown.Config{MaxClusters: 3, MinSegments: 2})
	c2.Process(voiceX, nil)
	c2.Process(voiceX, nil)
	infos = c2.All()
	if len(infos) != 1 {
		t.Fatalf("All() reported %d clusters, want 1", len(infos))
	}
	if want := 0.5 + 0.05*2; math.Abs(infos[0].Confidence-want) > 1e-9 {
		t.Errorf("confidence = %v, want %v", infos[0].Confidence, want)
	}
}

func TestRemoveFromCluster(t *testing.T) {
	t.Parallel()

	c := unknown.New(unknown.Config{MaxClusters: 3, MinSegments: 1})
	c.Process(voiceX, nil)
	before := c.Snapshot()[0].Centroid

	e2 := embedding.Normalize([]float32{0.9, 0.1, 0, 0})
	if r := c.Process(e2, nil); r.Reason != types.ReasonUnknownClusterMatch {
		t.Fatalf("setup: reason = %s, want %s", r.Reason, types.ReasonUnknownClusterMatch)
	}

	if !c.RemoveFromCluster(types.UnknownBase, e2) {
		t.Fatal("RemoveFromCluster returned false for a removable sample")
	}
	after := c.Snapshot()[0]
	if after.Count != 1 {
		t.Errorf("count = %d, want 1", after.Count)
	}
	for i := range after.Centroid {
		if math.Abs(float64(after.Centroid[i]-before[i])) > 1e-4 {
			t.Fatalf("centroid[%d] = %v, want %v (inverse update must restore it)", i, after.Centroid[i], before[i])
		}
	}

	// Founding sample and unknown id refusals.
	if c.RemoveFromCluster(types.UnknownBase, voiceX) {
		t.Error("removing the founding sample must be refused")
	}
	if c.RemoveFromCluster(types.UnknownBase-5, voiceX) {
		t.Error("removing from a nonexistent cluster must be refused")
	}
}

func TestLabel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   int
		want string
	}{
		{types.UnknownBase, "Unknown 1"},
		{types.UnknownBase - 1, "Unknown 2"},
		{types.UnknownBase - 4, "Unknown 5"},
		{0, ""},
		{types.SpeakerNone, ""},
	}
	for _, tt := range tests {
		if got := unknown.Label(tt.id); got != tt.want {
			t.Errorf("Label(%d) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestSnapshotRestore(t *testing.T) {
	t.Parallel()

	c := unknown.New(unknown.Config{MaxClusters: 3, MinSegments: 1})
	c.Process(voiceX, []types.EnrolledHint{{Name: "Ada", Similarity: 0.6}})
	c.Process(voiceX, []types.EnrolledHint{{Name: "Ada", Similarity: 0.6}})
	c.Process(voiceY, nil)

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d clusters, want 2", len(snap))
	}

	// Restore into a fresh clusterer, feeding the snapshot out of order.
	restored := unknown.New(unknown.Config{MaxClusters: 3, MinSegments: 1})
	restored.Restore([]types.UnknownClusterSnapshot{snap[1], snap[0]})

	if restored.Len() != 2 {
		t.Fatalf("restored %d clusters, want 2", restored.Len())
	}

	// Ids are reassigned in descending order from the base, so a near-repeat
	// of voiceX still lands on the first cluster.
	r := restored.Process(embedding.Normalize([]float32{0.9, 0.1, 0, 0}), nil)
	if r.ID != types.UnknownBase || r.Reason != types.ReasonUnknownClusterMatch {
		t.Errorf("post-restore match: got (%d, %s), want (%d, %s)", r.ID, r.Reason, types.UnknownBase, types.ReasonUnknownClusterMatch)
	}
	if r.ClosestEnrolled == nil || r.ClosestEnrolled.Name != "Ada" {
		t.Errorf("post-restore hint = %+v, want Ada", r.ClosestEnrolled)
	}

	// Garbage entries are dropped.
	restored.Restore([]types.UnknownClusterSnapshot{
		{ID: 3, Centroid: voiceX, Count: 1},
		{ID: types.UnknownBase, Centroid: nil, Count: 1},
	})
	if restored.Len() != 0 {
		t.Errorf("restored %d clusters from garbage, want 0", restored.Len())
	}
}
