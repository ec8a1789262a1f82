package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/wardlea/diarist/internal/registry"
	"github.com/wardlea/diarist/pkg/types"
)

func TestMemStore_AddGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := registry.NewMemStore()

	added, err := s.Add(ctx, types.EnrolledSpeaker{Name: "Ada", Centroid: []float32{1, 0}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if added.ID == "" {
		t.Fatal("add did not generate an ID")
	}

	got, err := s.Get(ctx, added.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Ada" {
		t.Errorf("name = %q, want Ada", got.Name)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("get missing: err = %v, want ErrNotFound", err)
	}
}

func TestMemStore_DuplicateID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := registry.NewMemStore()

	if _, err := s.Add(ctx, types.EnrolledSpeaker{ID: "e1", Name: "Ada"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.Add(ctx, types.EnrolledSpeaker{ID: "e1", Name: "Imposter"}); !errors.Is(err, registry.ErrDuplicateID) {
		t.Errorf("duplicate add: err = %v, want ErrDuplicateID", err)
	}
}

func TestMemStore_SnapshotOrderAndIsolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := registry.NewMemStore()
	for _, name := range []string{"Ada", "Bea", "Cyd"} {
		if _, err := s.Add(ctx, types.EnrolledSpeaker{ID: name, Name: name, Centroid: []float32{1, 0}}); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	want := []string{"Ada", "Bea", "Cyd"}
	for i, sp := range snap {
		if sp.Name != want[i] {
			t.Errorf("snapshot[%d] = %q, want %q (enrollment order)", i, sp.Name, want[i])
		}
	}

	// Mutating the snapshot must not leak into the store.
	snap[0].Centroid[0] = -42
	again, _ := s.Snapshot(ctx)
	if again[0].Centroid[0] == -42 {
		t.Error("snapshot aliases store centroid storage")
	}
}

func TestMemStore_UpdateRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := registry.NewMemStore()
	s.Add(ctx, types.EnrolledSpeaker{ID: "e1", Name: "Ada"})
	s.Add(ctx, types.EnrolledSpeaker{ID: "e2", Name: "Bea"})
	s.Add(ctx, types.EnrolledSpeaker{ID: "e3", Name: "Cyd"})

	if err := s.Update(ctx, types.EnrolledSpeaker{ID: "e2", Name: "Beatrice"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := s.Get(ctx, "e2")
	if got.Name != "Beatrice" {
		t.Errorf("name after update = %q, want Beatrice", got.Name)
	}

	if err := s.Update(ctx, types.EnrolledSpeaker{ID: "nope"}); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("update missing: err = %v, want ErrNotFound", err)
	}

	if err := s.Remove(ctx, "e2"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.Remove(ctx, "e2"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("second remove: err = %v, want ErrNotFound", err)
	}

	// Remaining records keep their order and stay reachable by id.
	snap, _ := s.Snapshot(ctx)
	if len(snap) != 2 || snap[0].ID != "e1" || snap[1].ID != "e3" {
		t.Errorf("snapshot after remove = %+v, want [e1 e3]", snap)
	}
	if _, err := s.Get(ctx, "e3"); err != nil {
		t.Errorf("get e3 after remove: %v", err)
	}
}
