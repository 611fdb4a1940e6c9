package device

import (
	"errors"
	"testing"
)

func TestRegistryReleaseAllReverseOrder(t *testing.T) {
	r := NewRegistry()

	var order []string
	for _, label := range []string{"first", "second", "third"} {
		label := label
		r.Register(label, func() error {
			order = append(order, label)
			return nil
		})
	}

	if errs := r.ReleaseAll(); len(errs) != 0 {
		t.Fatalf("ReleaseAll returned errors: %v", errs)
	}

	want := []string{"third", "second", "first"}
	if len(order) != len(want) {
		t.Fatalf("released %d resources, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("release order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d after ReleaseAll, want 0", r.Len())
	}
}

func TestRegistryReleaseAllContinuesPastFailures(t *testing.T) {
	r := NewRegistry()

	released := 0
	r.Register("ok-early", func() error {
		released++
		return nil
	})
	r.Register("broken", func() error {
		return errors.New("device went away")
	})
	r.Register("ok-late", func() error {
		released++
		return nil
	})

	errs := r.ReleaseAll()
	if len(errs) != 1 {
		t.Fatalf("ReleaseAll returned %d errors, want 1: %v", len(errs), errs)
	}
	if released != 2 {
		t.Errorf("released %d healthy resources, want 2", released)
	}
}

func TestRegistryReleaseIdempotent(t *testing.T) {
	r := NewRegistry()

	calls := 0
	id := r.Register("once", func() error {
		calls++
		return nil
	})

	if err := r.Release(id); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if err := r.Release(id); err != nil {
		t.Fatalf("second Release returned error: %v", err)
	}
	if err := r.Release("no-such-id"); err != nil {
		t.Fatalf("Release of unknown id returned error: %v", err)
	}
	if calls != 1 {
		t.Errorf("release func called %d times, want 1", calls)
	}

	// Already-released entries must not fire again on ReleaseAll.
	if errs := r.ReleaseAll(); len(errs) != 0 {
		t.Fatalf("ReleaseAll returned errors: %v", errs)
	}
	if calls != 1 {
		t.Errorf("release func called %d times after ReleaseAll, want 1", calls)
	}
}

func TestRegistryLen(t *testing.T) {
	r := NewRegistry()
	if r.Len() != 0 {
		t.Fatalf("Len() = %d on empty registry, want 0", r.Len())
	}
	id := r.Register("a", func() error { return nil })
	r.Register("b", func() error { return nil })
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
	r.Release(id)
	if r.Len() != 1 {
		t.Errorf("Len() = %d after one release, want 1", r.Len())
	}
}
