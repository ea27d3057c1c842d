// Package artifactstore implements the Precompressed Artifact Store: an
// on-disk pyramid of pre-rendered .u16 payloads, each possibly materialized
// under multiple content-encodings, with a manifest describing what exists.
package artifactstore

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/floodcontour/elevation-tiles/internal/apperr"
)

// Encoding identifies a content-encoding variant on disk.
type Encoding string

const (
	EncodingBrotli   Encoding = "br"
	EncodingGzip     Encoding = "gzip"
	EncodingIdentity Encoding = "identity"
)

// extension maps an Encoding to its on-disk file suffix.
func (e Encoding) extension() string {
	switch e {
	case EncodingBrotli:
		return ".u16.br"
	case EncodingGzip:
		return ".u16.gz"
	default:
		return ".u16"
	}
}

// ZoomStats records the manifest bookkeeping for one zoom level.
type ZoomStats struct {
	TileCount   int `json:"tile_count"`
	SkippedAllNoData int `json:"skipped_all_nodata"`
}

// Manifest is the root/manifest.json contract described in §4.5.
type Manifest struct {
	GeneratorVersion string            `json:"generator_version"`
	GeneratedAt      string            `json:"generated_at"`
	Variants         []string          `json:"variants"`
	Zooms            map[string]ZoomStats `json:"zooms"`
}

// Store is the read-side of the artifact pyramid: negotiated, read-only
// access from the request path. Regeneration happens only via Generator.
type Store struct {
	root string
}

// Open validates that root exists and returns a Store over it. A missing
// root is a StoreUnavailable condition, not a silent empty pyramid, since
// the engine must distinguish "no pyramid configured" from "cache miss".
func Open(root string) (*Store, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "artifactstore.Open",
			fmt.Errorf("precompressed root %q is missing or not a directory", root))
	}
	return &Store{root: root}, nil
}

// Negotiate looks for the best available on-disk variant for (z,x,y) given
// the caller's ordered encoding preference (e.g. ["br", "gzip", "identity"]).
// It returns the raw file bytes exactly as stored (still encoded) and which
// encoding was found. ok=false means a cache miss, not an error: the engine
// falls through to runtime synthesis.
func (s *Store) Negotiate(z, x, y int, preference []string) (data []byte, enc Encoding, ok bool) {
	for _, p := range preference {
		e := normalizeEncoding(p)
		path := s.tilePath(z, x, y, e)
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		return raw, e, true
	}
	return nil, "", false
}

// DecodeIdentity returns the uncompressed payload bytes for a variant
// fetched from Negotiate, decompressing br/gzip as needed.
func DecodeIdentity(data []byte, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingBrotli:
		r := brotli.NewReader(bytes.NewReader(data))
		buf := new(bytes.Buffer)
		if _, err := buf.ReadFrom(r); err != nil {
			return nil, fmt.Errorf("artifactstore: brotli decode: %w", err)
		}
		return buf.Bytes(), nil
	case EncodingGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("artifactstore: gzip decode: %w", err)
		}
		defer r.Close()
		buf := new(bytes.Buffer)
		if _, err := buf.ReadFrom(r); err != nil {
			return nil, fmt.Errorf("artifactstore: gzip decode: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return data, nil
	}
}

// Manifest reads and parses the root manifest.json.
func (s *Store) Manifest() (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, "manifest.json"))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "artifactstore.Manifest", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "artifactstore.Manifest", err)
	}
	return &m, nil
}

func (s *Store) tilePath(z, x, y int, enc Encoding) string {
	return filepath.Join(s.root, strconv.Itoa(z), strconv.Itoa(x), strconv.Itoa(y)+enc.extension())
}

func normalizeEncoding(pref string) Encoding {
	switch pref {
	case "br", "brotli":
		return EncodingBrotli
	case "gzip", "gz":
		return EncodingGzip
	default:
		return EncodingIdentity
	}
}

// Generator is the offline, non-request-path writer for the artifact
// pyramid. It writes each variant to a temp file and renames it into place
// atomically, so a concurrent Store reader observes either the old or the
// new bytes in full, never a partial file.
type Generator struct {
	root             string
	generatorVersion string
}

// NewGenerator creates a Generator rooted at root, creating the root
// directory if necessary.
func NewGenerator(root, generatorVersion string) (*Generator, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, "artifactstore.NewGenerator", err)
	}
	return &Generator{root: root, generatorVersion: generatorVersion}, nil
}

// WriteTile encodes the given identity payload into each requested variant
// for (z,x,y) and writes each via a temp-file-then-rename. The uncompressed
// .u16 file is written only when EncodingIdentity is among the variants.
func (g *Generator) WriteTile(z, x, y int, payload []byte, variants []Encoding) error {
	dir := filepath.Join(g.root, strconv.Itoa(z), strconv.Itoa(x))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, "artifactstore.WriteTile", err)
	}

	for _, v := range variants {
		body, err := encodeVariant(payload, v)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "artifactstore.WriteTile", err)
		}
		path := filepath.Join(dir, strconv.Itoa(y)+v.extension())
		if err := writeAtomic(dir, path, body); err != nil {
			return apperr.Wrap(apperr.KindStoreUnavailable, "artifactstore.WriteTile", err)
		}
	}
	return nil
}

func encodeVariant(payload []byte, v Encoding) ([]byte, error) {
	switch v {
	case EncodingBrotli:
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case EncodingGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(payload); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return payload, nil
	}
}

// writeAtomic writes body to a temp file in dir, then renames it over path.
func writeAtomic(dir, path string, body []byte) error {
	tmp, err := os.CreateTemp(dir, ".artifact-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// WriteManifest writes manifest.json last and atomically, after every tile
// in the pyramid has been written.
func (g *Generator) WriteManifest(zooms map[int]ZoomStats, variants []Encoding) error {
	strZooms := make(map[string]ZoomStats, len(zooms))
	for z, stats := range zooms {
		strZooms[strconv.Itoa(z)] = stats
	}
	varNames := make([]string, len(variants))
	for i, v := range variants {
		varNames[i] = string(v)
	}
	m := Manifest{
		GeneratorVersion: g.generatorVersion,
		GeneratedAt:      time.Now().UTC().Format(time.RFC3339),
		Variants:         varNames,
		Zooms:            strZooms,
	}
	blob, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "artifactstore.WriteManifest", err)
	}
	path := filepath.Join(g.root, "manifest.json")
	if err := writeAtomic(g.root, path, blob); err != nil {
		return apperr.Wrap(apperr.KindStoreUnavailable, "artifactstore.WriteManifest", err)
	}
	return nil
}
