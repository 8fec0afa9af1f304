package strand

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// EmitCache persists transpiled module output keyed by specifier. Each
// entry is a single file: payload bytes followed by a 16-byte trailer of
// source hash and content hash, both u64 little-endian. The content hash
// covers the payload and the runtime version string, so upgrading the
// runtime invalidates every entry without a sweep. A corrupt or mismatched
// entry reads as a miss, never as an error.
type EmitCache struct {
	dir     string
	version string
}

const emitTrailerLen = 16

// OpenEmitCache creates the cache directory under dataDir if needed.
// Version is an explicit parameter so the same cache logic is testable
// against arbitrary version strings.
func OpenEmitCache(dataDir, version string) (*EmitCache, error) {
	dir := filepath.Join(dataDir, "emit")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating emit cache dir: %w", err)
	}
	return &EmitCache{dir: dir, version: version}, nil
}

// SourceHash is the hash stored alongside an entry to tie it to the exact
// source text it was emitted from.
func SourceHash(src []byte) uint64 {
	return xxhash.Sum64(src)
}

func (c *EmitCache) contentHash(payload []byte) uint64 {
	d := xxhash.New()
	d.Write(payload)
	d.Write([]byte(c.version))
	return d.Sum64()
}

func (c *EmitCache) entryPath(specifier string) string {
	return filepath.Join(c.dir, fmt.Sprintf("%016x.emit", xxhash.Sum64String(specifier)))
}

// Get returns the cached emit for specifier if it was produced from
// exactly src under the current version.
func (c *EmitCache) Get(specifier string, src []byte) ([]byte, bool) {
	return c.GetHashed(specifier, SourceHash(src))
}

// GetHashed is Get with a precomputed source hash.
func (c *EmitCache) GetHashed(specifier string, sourceHash uint64) ([]byte, bool) {
	blob, err := os.ReadFile(c.entryPath(specifier))
	if err != nil || len(blob) < emitTrailerLen {
		return nil, false
	}
	payload := blob[:len(blob)-emitTrailerLen]
	trailer := blob[len(blob)-emitTrailerLen:]
	gotSource := binary.LittleEndian.Uint64(trailer[:8])
	gotContent := binary.LittleEndian.Uint64(trailer[8:])
	if gotSource != sourceHash || gotContent != c.contentHash(payload) {
		return nil, false
	}
	return payload, true
}

// Put stores the emit for specifier produced from src.
func (c *EmitCache) Put(specifier string, src, payload []byte) error {
	return c.PutHashed(specifier, SourceHash(src), payload)
}

// PutHashed is Put with a precomputed source hash. The write goes through
// a temp file and rename so a crashed writer never leaves a torn entry a
// later read could half-trust.
func (c *EmitCache) PutHashed(specifier string, sourceHash uint64, payload []byte) error {
	blob := make([]byte, len(payload)+emitTrailerLen)
	copy(blob, payload)
	trailer := blob[len(payload):]
	binary.LittleEndian.PutUint64(trailer[:8], sourceHash)
	binary.LittleEndian.PutUint64(trailer[8:], c.contentHash(payload))

	dst := c.entryPath(specifier)
	tmp, err := os.CreateTemp(c.dir, "emit-*")
	if err != nil {
		return fmt.Errorf("creating emit cache temp file: %w", err)
	}
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing emit cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing emit cache temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("installing emit cache entry: %w", err)
	}
	return nil
}

// Close releases the cache. Entries live on disk, so this is only a
// lifecycle marker for the isolate's shutdown ordering.
func (c *EmitCache) Close() {}
