// Package unknown implements the secondary clustering pass for segments the
// primary engine could not confidently place. It groups them into anonymous
// pseudo-speakers ("Unknown 1", "Unknown 2", …) with negative ids counted
// down from [types.UnknownBase], and keeps a consensus hint of which enrolled
// voice each pseudo-speaker most resembles.
package unknown

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/wardlea/diarist/pkg/embedding"
	"github.com/wardlea/diarist/pkg/types"
)

// nearbyEnrolledFloor is the minimum similarity for an enrolled candidate to
// be worth recording in a cluster's closest-enrolled history. Below this the
// hint is noise.
const nearbyEnrolledFloor = 0.3

// maxConfidence caps the derived cluster confidence; the heuristic is a
// monotone count-based score, not a probability, and must never read as
// certainty.
const maxConfidence = 0.9

// Config tunes a [Clusterer].
type Config struct {
	// MaxClusters caps how many pseudo-speaker clusters may form.
	MaxClusters int

	// MinSegments is the minimum segment count before a cluster appears in
	// [Clusterer.All] listings. Denoises single stray detections.
	MinSegments int

	// SimilarityThreshold is the cosine similarity a segment must reach
	// against a cluster centroid to join it.
	SimilarityThreshold float64
}

// Result is the outcome of routing one segment through the clusterer.
type Result struct {
	// ID is the assigned pseudo-speaker id, ≤ [types.UnknownBase].
	ID int

	// Reason is one of no_embedding, unknown_new_cluster, or
	// unknown_cluster_match.
	Reason types.Reason

	// Similarity is the cosine similarity to the assigned cluster centroid.
	Similarity float64

	// Margin is the best-to-second-best gap across unknown clusters.
	// Informational only: ambiguity between two clusters that are both
	// already "unknown" never blocks assignment.
	Margin float64

	// Forced indicates the cluster cap prevented creating a new cluster and
	// the segment was assigned to the closest one regardless of threshold.
	Forced bool

	// Folded reports whether the embedding was averaged into the assigned
	// cluster's centroid. Unlike the primary engine, forced assignments fold
	// here too; only degenerate inputs leave state untouched.
	Folded bool

	// ClosestEnrolled is the consensus nearest enrolled voice for the
	// assigned cluster, when one has emerged.
	ClosestEnrolled *types.EnrolledHint
}

// Aggregate is the consensus "this unknown voice is probably near X" hint
// derived from a cluster's closest-enrolled history. It never promotes the
// cluster to an actual match.
type Aggregate struct {
	// Name is the enrolled voice most often recorded as nearest.
	Name string

	// Similarity is the mean similarity across that voice's occurrences.
	Similarity float64

	// Occurrences is how many history entries named that voice.
	Occurrences int

	// TotalSegments is the cluster's segment count at recomputation time.
	TotalSegments int
}

// clusterRecord is one pseudo-speaker. Like the primary engine's arena,
// clusters are never deleted mid-session; the slice index is stable and the
// id is derived from it.
type clusterRecord struct {
	id       int
	mean     []float32
	centroid []float32
	count    int

	// history holds one entry per assigned segment that had a nearby (but
	// not confidently matching) enrolled candidate.
	history   []types.EnrolledHint
	aggregate *Aggregate
}

// Clusterer subdivides the "no confident match" bucket into distinguishable
// anonymous speakers. Not safe for concurrent use; the session layer
// serializes access per channel.
type Clusterer struct {
	cfg      Config
	clusters []*clusterRecord
}

// New constructs a [Clusterer]. Unset fields take defaults: 5 clusters
// maximum, 2 segments minimum, 0.75 similarity threshold.
func New(cfg Config) *Clusterer {
	if cfg.MaxClusters < 1 {
		cfg.MaxClusters = 5
	}
	if cfg.MinSegments < 1 {
		cfg.MinSegments = 2
	}
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.75
	}
	return &Clusterer{cfg: cfg}
}

// Process routes one unmatched segment. enrolledSims is the primary engine's
// enrolled candidate list for the same embedding, sorted by descending
// similarity; it feeds the closest-enrolled bookkeeping and may be nil.
func (c *Clusterer) Process(e []float32, enrolledSims []types.EnrolledHint) Result {
	if len(e) == 0 {
		return Result{ID: types.UnknownBase, Reason: types.ReasonNoEmbedding}
	}

	if len(c.clusters) == 0 {
		cl := c.create(e, enrolledSims)
		return Result{ID: cl.id, Reason: types.ReasonUnknownNewCluster, Folded: true, ClosestEnrolled: cl.hint()}
	}

	best, second := c.bestMatch(e)
	margin := 0.0
	if second != nil {
		margin = best.sim - second.sim
	}

	switch {
	case best.sim >= c.cfg.SimilarityThreshold:
		folded := c.assign(best.cl, e, enrolledSims)
		return Result{
			ID:              best.cl.id,
			Reason:          types.ReasonUnknownClusterMatch,
			Similarity:      best.sim,
			Margin:          margin,
			Folded:          folded,
			ClosestEnrolled: best.cl.hint(),
		}

	case len(c.clusters) < c.cfg.MaxClusters:
		cl := c.create(e, enrolledSims)
		return Result{
			ID:              cl.id,
			Reason:          types.ReasonUnknownNewCluster,
			Similarity:      best.sim,
			Margin:          margin,
			Folded:          true,
			ClosestEnrolled: cl.hint(),
		}

	default:
		folded := c.assign(best.cl, e, enrolledSims)
		return Result{
			ID:              best.cl.id,
			Reason:          types.ReasonUnknownClusterMatch,
			Similarity:      best.sim,
			Margin:          margin,
			Forced:          true,
			Folded:          folded,
			ClosestEnrolled: best.cl.hint(),
		}
	}
}

type clusterScore struct {
	cl  *clusterRecord
	sim float64
}

// bestMatch scores e against every cluster centroid. Iteration follows
// creation order and ties keep the older cluster first, so replay is
// deterministic.
func (c *Clusterer) bestMatch(e []float32) (best clusterScore, second *clusterScore) {
	scores := make([]clusterScore, 0, len(c.clusters))
	for _, cl := range c.clusters {
		scores = append(scores, clusterScore{cl: cl, sim: embedding.Cosine(cl.centroid, e)})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].sim > scores[j].sim })
	best = scores[0]
	if len(scores) > 1 {
		second = &scores[1]
	}
	return best, second
}

// create founds a new cluster on e. Ids count down from the base: the first
// cluster is the base sentinel itself, each later one is one further from it.
func (c *Clusterer) create(e []float32, enrolledSims []types.EnrolledHint) *clusterRecord {
	unit := embedding.Normalize(e)
	cl := &clusterRecord{
		id:       types.UnknownBase - len(c.clusters),
		mean:     unit,
		centroid: embedding.Clone(unit),
		count:    1,
	}
	c.clusters = append(c.clusters, cl)
	cl.recordEnrolled(enrolledSims)
	slog.Debug("created unknown cluster", "unknown_id", cl.id, "clusters", len(c.clusters))
	return cl
}

// assign folds e into an existing cluster's centroid. Reports whether the
// fold happened (it only fails on a dimension mismatch).
func (c *Clusterer) assign(cl *clusterRecord, e []float32, enrolledSims []types.EnrolledHint) bool {
	folded := false
	if m := embedding.Fold(cl.mean, e, cl.count); m != nil {
		cl.mean = m
		cl.centroid = embedding.Normalize(m)
		cl.count++
		folded = true
	}
	cl.recordEnrolled(enrolledSims)
	return folded
}

// recordEnrolled appends the nearest enrolled candidate to the cluster's
// history when it is close enough to be meaningful, then refreshes the
// consensus aggregate.
func (cl *clusterRecord) recordEnrolled(enrolledSims []types.EnrolledHint) {
	if len(enrolledSims) > 0 && enrolledSims[0].Similarity >= nearbyEnrolledFloor {
		cl.history = append(cl.history, enrolledSims[0])
	}
	cl.recomputeAggregate()
}

// recomputeAggregate tallies occurrences and total similarity per enrolled
// name across the history. The winner is the most frequent name; ties break
// toward the higher mean similarity. Names are walked in first-appearance
// order so the result never depends on map iteration.
func (cl *clusterRecord) recomputeAggregate() {
	if len(cl.history) == 0 {
		cl.aggregate = nil
		return
	}

	type tally struct {
		count    int
		totalSim float64
	}
	tallies := make(map[string]*tally, len(cl.history))
	var order []string
	for _, h := range cl.history {
		t, ok := tallies[h.Name]
		if !ok {
			t = &tally{}
			tallies[h.Name] = t
			order = append(order, h.Name)
		}
		t.count++
		t.totalSim += h.Similarity
	}

	var winner string
	var winnerAvg float64
	for _, name := range order {
		t := tallies[name]
		avg := t.totalSim / float64(t.count)
		if winner == "" || t.count > tallies[winner].count ||
			(t.count == tallies[winner].count && avg > winnerAvg) {
			winner = name
			winnerAvg = avg
		}
	}

	cl.aggregate = &Aggregate{
		Name:          winner,
		Similarity:    winnerAvg,
		Occurrences:   tallies[winner].count,
		TotalSegments: cl.count,
	}
}

// hint returns the consensus nearest-enrolled hint, or nil when none exists.
func (cl *clusterRecord) hint() *types.EnrolledHint {
	if cl.aggregate == nil {
		return nil
	}
	return &types.EnrolledHint{Name: cl.aggregate.Name, Similarity: cl.aggregate.Similarity}
}

// RemoveFromCluster undoes one embedding's contribution to a cluster
// centroid, mirroring the primary engine's inverse update so correction
// replay does not double-count unknown segments. Returns false without
// mutation when the id names no cluster, the count is ≤ 1, or the dimensions
// disagree.
func (c *Clusterer) RemoveFromCluster(id int, e []float32) bool {
	cl := c.byID(id)
	if cl == nil || cl.count <= 1 {
		return false
	}
	m := embedding.Unfold(cl.mean, e, cl.count)
	if m == nil {
		return false
	}
	cl.mean = m
	cl.centroid = embedding.Normalize(m)
	cl.count--
	return true
}

func (c *Clusterer) byID(id int) *clusterRecord {
	idx := types.UnknownBase - id
	if idx < 0 || idx >= len(c.clusters) {
		return nil
	}
	return c.clusters[idx]
}

// Info describes one reportable pseudo-speaker.
type Info struct {
	ID         int
	Label      string
	Count      int
	Confidence float64
	Aggregate  *Aggregate
}

// All lists clusters with at least MinSegments segments, in creation order.
// Confidence is the capped heuristic min(0.9, 0.5 + 0.05·count) — a monotone
// score, not a probability.
func (c *Clusterer) All() []Info {
	var out []Info
	for _, cl := range c.clusters {
		if cl.count < c.cfg.MinSegments {
			continue
		}
		conf := 0.5 + 0.05*float64(cl.count)
		if conf > maxConfidence {
			conf = maxConfidence
		}
		var agg *Aggregate
		if cl.aggregate != nil {
			a := *cl.aggregate
			agg = &a
		}
		out = append(out, Info{
			ID:         cl.id,
			Label:      Label(cl.id),
			Count:      cl.count,
			Confidence: conf,
			Aggregate:  agg,
		})
	}
	return out
}

// Len returns the number of clusters formed, including ones below the
// reporting floor.
func (c *Clusterer) Len() int { return len(c.clusters) }

// Label returns the display label for an unknown pseudo-speaker id
// ("Unknown 1" for the base sentinel), or "" for a non-unknown id.
func Label(id int) string {
	if !types.IsUnknownID(id) {
		return ""
	}
	return fmt.Sprintf("Unknown %d", types.UnknownBase-id+1)
}

// Snapshot serializes every cluster for the persistence boundary.
func (c *Clusterer) Snapshot() []types.UnknownClusterSnapshot {
	out := make([]types.UnknownClusterSnapshot, 0, len(c.clusters))
	for _, cl := range c.clusters {
		var hint *types.EnrolledHint
		if h := cl.hint(); h != nil {
			hh := *h
			hint = &hh
		}
		out = append(out, types.UnknownClusterSnapshot{
			ID:              cl.id,
			Centroid:        embedding.Clone(cl.centroid),
			Count:           cl.count,
			ClosestEnrolled: hint,
		})
	}
	return out
}

// Restore rebuilds the cluster set from a snapshot, replacing any current
// state. Entries are sorted into id order (base first) so the strictly
// decreasing id invariant holds regardless of input order; entries without a
// centroid or with a non-unknown id are skipped.
func (c *Clusterer) Restore(snap []types.UnknownClusterSnapshot) {
	sorted := make([]types.UnknownClusterSnapshot, 0, len(snap))
	for _, s := range snap {
		if types.IsUnknownID(s.ID) && len(s.Centroid) > 0 {
			sorted = append(sorted, s)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID > sorted[j].ID })

	c.clusters = c.clusters[:0]
	for _, s := range sorted {
		unit := embedding.Normalize(s.Centroid)
		count := s.Count
		if count < 1 {
			count = 1
		}
		cl := &clusterRecord{
			id:       types.UnknownBase - len(c.clusters),
			mean:     unit,
			centroid: embedding.Clone(unit),
			count:    count,
		}
		if s.ClosestEnrolled != nil {
			cl.history = append(cl.history, *s.ClosestEnrolled)
			cl.recomputeAggregate()
		}
		c.clusters = append(c.clusters, cl)
	}
}
