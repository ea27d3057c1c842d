package tilecache

import (
	"testing"

	"github.com/floodcontour/elevation-tiles/internal/colormap"
)

func TestCache_PutGet(t *testing.T) {
	c, err := New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	key := Key{Mode: colormap.ModeTopographic, Z: 10, X: 5, Y: 6}
	c.Put(key, []byte{1, 2, 3})

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got) != 3 {
		t.Errorf("got %d bytes, want 3", len(got))
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	k1 := Key{Z: 1, X: 0, Y: 0}
	k2 := Key{Z: 2, X: 0, Y: 0}
	k3 := Key{Z: 3, X: 0, Y: 0}

	c.Put(k1, []byte("a"))
	c.Put(k2, []byte("b"))
	c.Get(k1) // touch k1 so k2 becomes the least-recently-used entry
	c.Put(k3, []byte("c"))

	if _, ok := c.Get(k2); ok {
		t.Error("expected k2 to be evicted")
	}
	if _, ok := c.Get(k1); !ok {
		t.Error("expected k1 to survive (recently touched)")
	}
	if _, ok := c.Get(k3); !ok {
		t.Error("expected k3 to survive (just inserted)")
	}
}

func TestCache_DistinctModesAreDistinctKeys(t *testing.T) {
	c, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	topo := Key{Mode: colormap.ModeTopographic, Z: 1, X: 1, Y: 1}
	flood := Key{Mode: colormap.ModeFlood, WaterLevelQuantum: 1.2, Z: 1, X: 1, Y: 1}

	c.Put(topo, []byte("topo"))
	c.Put(flood, []byte("flood"))

	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestCache_OverwriteSameKey(t *testing.T) {
	c, err := New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	key := Key{Z: 1, X: 1, Y: 1}
	c.Put(key, []byte("first"))
	c.Put(key, []byte("second"))

	got, _ := c.Get(key)
	if string(got) != "second" {
		t.Errorf("got %q, want %q", got, "second")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}
