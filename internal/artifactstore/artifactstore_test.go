package artifactstore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/floodcontour/elevation-tiles/internal/codec"
)

func TestGenerator_WriteAndNegotiate(t *testing.T) {
	root := t.TempDir()
	gen, err := NewGenerator(root, "test-1")
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	payload := codec.AllNoDataPayload()
	if err := gen.WriteTile(10, 5, 6, payload, []Encoding{EncodingBrotli, EncodingGzip, EncodingIdentity}); err != nil {
		t.Fatalf("WriteTile: %v", err)
	}

	store, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	data, enc, ok := store.Negotiate(10, 5, 6, []string{"br", "gzip", "identity"})
	if !ok {
		t.Fatal("expected negotiated hit")
	}
	if enc != EncodingBrotli {
		t.Errorf("enc = %v, want br", enc)
	}

	decoded, err := DecodeIdentity(data, enc)
	if err != nil {
		t.Fatalf("DecodeIdentity: %v", err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Error("decoded brotli payload does not match original")
	}
}

func TestStore_NegotiateFallsThroughPreferenceOrder(t *testing.T) {
	root := t.TempDir()
	gen, err := NewGenerator(root, "test-1")
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	payload := codec.AllNoDataPayload()
	// Only write the gzip and identity variants; br is absent.
	if err := gen.WriteTile(5, 1, 1, payload, []Encoding{EncodingGzip, EncodingIdentity}); err != nil {
		t.Fatalf("WriteTile: %v", err)
	}

	store, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	_, enc, ok := store.Negotiate(5, 1, 1, []string{"br", "gzip", "identity"})
	if !ok {
		t.Fatal("expected negotiated hit on gzip fallback")
	}
	if enc != EncodingGzip {
		t.Errorf("enc = %v, want gzip", enc)
	}
}

func TestStore_NegotiateMiss(t *testing.T) {
	root := t.TempDir()
	if _, err := NewGenerator(root, "test-1"); err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	store, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	_, _, ok := store.Negotiate(5, 1, 1, []string{"br", "gzip", "identity"})
	if ok {
		t.Error("expected a miss for an ungenerated tile")
	}
}

func TestOpen_MissingRoot(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "does-not-exist")); err == nil {
		t.Error("expected error for missing root")
	}
}

func TestGenerator_WriteAndReadManifest(t *testing.T) {
	root := t.TempDir()
	gen, err := NewGenerator(root, "test-1")
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	zooms := map[int]ZoomStats{
		5: {TileCount: 100, SkippedAllNoData: 10},
	}
	if err := gen.WriteManifest(zooms, []Encoding{EncodingBrotli}); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}

	store, err := Open(root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	m, err := store.Manifest()
	if err != nil {
		t.Fatalf("Manifest: %v", err)
	}
	if m.GeneratorVersion != "test-1" {
		t.Errorf("GeneratorVersion = %q, want test-1", m.GeneratorVersion)
	}
	if m.Zooms["5"].TileCount != 100 {
		t.Errorf("zoom 5 tile count = %d, want 100", m.Zooms["5"].TileCount)
	}
}

func TestWriteAtomic_RegenerationReplacesWholeFile(t *testing.T) {
	root := t.TempDir()
	gen, err := NewGenerator(root, "v1")
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	payloadA := codec.AllNoDataPayload()
	payloadB := make([]byte, codec.PayloadBytes)
	for i := range payloadB {
		payloadB[i] = 0x01
	}

	if err := gen.WriteTile(1, 0, 0, payloadA, []Encoding{EncodingIdentity}); err != nil {
		t.Fatalf("WriteTile A: %v", err)
	}
	path := filepath.Join(root, "1", "0", "0.u16")
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	if !bytes.Equal(first, payloadA) {
		t.Fatal("first write mismatch")
	}

	if err := gen.WriteTile(1, 0, 0, payloadB, []Encoding{EncodingIdentity}); err != nil {
		t.Fatalf("WriteTile B: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if !bytes.Equal(second, payloadB) {
		t.Fatal("regeneration did not fully replace the file")
	}
}
