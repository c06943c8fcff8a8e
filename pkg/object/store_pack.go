package object

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/vessel/pkg/mempool"
)

// ConsolidateOptions tunes a pack build.
type ConsolidateOptions struct {
	Codec      Codec // payload codec; incompressible payloads fall back to CodecNone
	PruneLoose bool  // remove loose copies once the pack is durable
	Workers    int   // read/compress parallelism; GOMAXPROCS when <= 0
}

// PackSummary reports the outcome of a consolidation.
type PackSummary struct {
	PackedObjects int
	PrunedLoose   int
	PackFile      string
	Checksum      Hash
}

// VerifySummary reports the outcome of Store.Verify.
type VerifySummary struct {
	LooseObjects int
	PackFiles    int
	PackObjects  int
}

type packedPayload struct {
	id      Hash
	objType ObjectType
	codec   Codec
	size    uint64
	payload []byte
}

// Consolidate merges the given objects into one new pack. Objects are read
// (and verified) from wherever they currently live, compressed in
// parallel, and written sequentially. The pack becomes visible only by an
// atomic rename after it is synced; loose copies are removed only after
// the published pack has been reopened and validated.
func (s *Store) Consolidate(ids []Hash, opts ConsolidateOptions) (*PackSummary, error) {
	ids = uniqueSortedHashes(ids)
	if len(ids) == 0 {
		return &PackSummary{}, nil
	}
	if len(ids) > int(^uint32(0)) {
		return nil, fmt.Errorf("consolidate: too many objects to pack: %d", len(ids))
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	summary := &PackSummary{}
	err := mempool.Scoped(func(arena *mempool.Arena) error {
		payloads := make([]packedPayload, len(ids))
		var g errgroup.Group
		g.SetLimit(workers)
		for i, id := range ids {
			g.Go(func() error {
				objType, data, err := s.Get(id)
				if err != nil {
					return fmt.Errorf("consolidate: read %s: %w", id, err)
				}
				scratch := arena.Alloc(payloadBound(len(data)))
				payload, codec, err := CompressPayload(scratch, data, opts.Codec, s.level)
				if err != nil {
					return fmt.Errorf("consolidate: compress %s: %w", id, err)
				}
				payloads[i] = packedPayload{
					id:      id,
					objType: objType,
					codec:   codec,
					size:    uint64(len(data)),
					payload: payload,
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		name, checksum, err := s.writePack(payloads)
		if err != nil {
			return err
		}
		summary.PackFile = name
		summary.Checksum = checksum
		summary.PackedObjects = len(payloads)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.reloadPacks(); err != nil {
		return nil, fmt.Errorf("consolidate: reopen packs: %w", err)
	}

	if opts.PruneLoose {
		published, err := OpenPack(filepath.Join(s.packDir(), summary.PackFile))
		if err != nil {
			return nil, fmt.Errorf("consolidate: validate published pack: %w", err)
		}
		defer published.Close()
		for _, id := range ids {
			if !published.Has(id) || !s.HasLoose(id) {
				continue
			}
			if err := os.Remove(s.objectPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("consolidate: prune loose %s: %w: %w", id, ErrIO, err)
			}
			summary.PrunedLoose++
		}
	}

	s.log.Info("pack consolidated",
		zap.String("pack", summary.PackFile),
		zap.Int("objects", summary.PackedObjects),
		zap.Int("pruned", summary.PrunedLoose),
		zap.String("codec", opts.Codec.String()),
	)
	return summary, nil
}

// writePack writes payloads to a temp file and renames it into place.
func (s *Store) writePack(payloads []packedPayload) (string, Hash, error) {
	packDir := s.packDir()
	if err := os.MkdirAll(packDir, 0o755); err != nil {
		return "", "", fmt.Errorf("consolidate: mkdir pack dir: %w: %w", ErrIO, err)
	}

	tmp, err := os.CreateTemp(packDir, ".tmp-pack-*")
	if err != nil {
		return "", "", fmt.Errorf("consolidate: create pack temp file: %w: %w", ErrIO, err)
	}
	tmpPath := tmp.Name()
	renamed := false
	defer func() {
		if !renamed {
			_ = os.Remove(tmpPath)
		}
	}()

	pw, err := NewPackWriter(tmp, uint32(len(payloads)), s.level)
	if err != nil {
		_ = tmp.Close()
		return "", "", fmt.Errorf("consolidate: %w", err)
	}
	for _, p := range payloads {
		if err := pw.WriteCompressedEntry(p.id, p.objType, p.codec, p.size, p.payload); err != nil {
			_ = tmp.Close()
			return "", "", fmt.Errorf("consolidate: %w", err)
		}
	}
	checksum, err := pw.Finish()
	if err != nil {
		_ = tmp.Close()
		return "", "", fmt.Errorf("consolidate: finalize pack: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", "", fmt.Errorf("consolidate: close pack temp file: %w: %w", ErrIO, err)
	}

	name := "pack-" + string(checksum) + packFileExt
	if err := os.Rename(tmpPath, filepath.Join(packDir, name)); err != nil {
		return "", "", fmt.Errorf("consolidate: rename pack file: %w: %w", ErrIO, err)
	}
	renamed = true
	syncDir(packDir)
	return name, checksum, nil
}

// PackLooseObjects consolidates every loose object that no pack holds yet.
func (s *Store) PackLooseObjects(opts ConsolidateOptions) (*PackSummary, error) {
	loose, err := s.LooseObjects()
	if err != nil {
		return nil, err
	}
	packs, err := s.loadedPacks()
	if err != nil {
		return nil, err
	}
	toPack := make([]Hash, 0, len(loose))
	for _, h := range loose {
		packed := false
		for _, p := range packs {
			if p.Has(h) {
				packed = true
				break
			}
		}
		if !packed {
			toPack = append(toPack, h)
		}
	}
	return s.Consolidate(toPack, opts)
}

// Verify checks object integrity across loose objects and pack entries.
func (s *Store) Verify() (*VerifySummary, error) {
	report := &VerifySummary{}

	looseHashes, err := s.LooseObjects()
	if err != nil {
		return nil, err
	}
	for _, h := range looseHashes {
		if _, _, err := s.readLoose(h); err != nil {
			return nil, fmt.Errorf("verify loose %s: %w", h, err)
		}
		report.LooseObjects++
	}

	paths, err := s.listPackPaths()
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		pr, err := OpenPack(path)
		if err != nil {
			return nil, fmt.Errorf("verify pack %s: %w", filepath.Base(path), err)
		}
		for _, id := range pr.IDs() {
			if _, _, err := pr.Get(id); err != nil {
				pr.Close()
				return nil, fmt.Errorf("verify pack %s: %w", filepath.Base(path), err)
			}
			report.PackObjects++
		}
		pr.Close()
		report.PackFiles++
	}
	return report, nil
}

// Packs returns the currently open packs.
func (s *Store) Packs() ([]Pack, error) {
	return s.loadedPacks()
}

func (s *Store) loadedPacks() ([]Pack, error) {
	s.packsMu.RLock()
	if s.packsLoaded {
		packs := s.packs
		s.packsMu.RUnlock()
		return packs, nil
	}
	s.packsMu.RUnlock()

	s.packsMu.Lock()
	defer s.packsMu.Unlock()
	if s.packsLoaded {
		return s.packs, nil
	}
	packs, err := s.openPacks()
	if err != nil {
		return nil, err
	}
	s.packs = packs
	s.packsLoaded = true
	return packs, nil
}

func (s *Store) reloadPacks() error {
	s.packsMu.Lock()
	defer s.packsMu.Unlock()
	for _, p := range s.packs {
		_ = p.Close()
	}
	packs, err := s.openPacks()
	if err != nil {
		s.packs = nil
		s.packsLoaded = false
		return err
	}
	s.packs = packs
	s.packsLoaded = true
	return nil
}

func (s *Store) openPacks() ([]Pack, error) {
	paths, err := s.listPackPaths()
	if err != nil {
		return nil, err
	}
	packs := make([]Pack, 0, len(paths))
	for _, path := range paths {
		var p Pack
		var err error
		if s.fastPacks {
			p, err = OpenFastPack(path)
		} else {
			p, err = OpenPack(path)
		}
		if err != nil {
			for _, opened := range packs {
				_ = opened.Close()
			}
			return nil, err
		}
		packs = append(packs, p)
	}
	return packs, nil
}

func (s *Store) listPackPaths() ([]string, error) {
	entries, err := os.ReadDir(s.packDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read pack dir: %w: %w", ErrIO, err)
	}

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, packFileExt) {
			continue
		}
		paths = append(paths, filepath.Join(s.packDir(), name))
	}
	sort.Strings(paths)
	return paths, nil
}

// LooseObjects lists every loose object ID in ascending order.
func (s *Store) LooseObjects() ([]Hash, error) {
	objectsDir := filepath.Join(s.root, "objects")
	fanoutDirs, err := os.ReadDir(objectsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read objects dir: %w: %w", ErrIO, err)
	}

	hashes := make([]Hash, 0)
	for _, fanoutDir := range fanoutDirs {
		if !fanoutDir.IsDir() {
			continue
		}
		prefix := fanoutDir.Name()
		if !isHexHashComponent(prefix, 2) {
			continue
		}

		objectEntries, err := os.ReadDir(filepath.Join(objectsDir, prefix))
		if err != nil {
			return nil, fmt.Errorf("read objects fanout %s: %w: %w", prefix, ErrIO, err)
		}
		for _, objectEntry := range objectEntries {
			if objectEntry.IsDir() {
				continue
			}
			suffix := objectEntry.Name()
			if !isHexHashComponent(suffix, HashSize*2-2) {
				continue
			}
			hashes = append(hashes, Hash(prefix+suffix))
		}
	}

	sort.Slice(hashes, func(i, j int) bool {
		return hashes[i] < hashes[j]
	})
	return hashes, nil
}

func isHexHashComponent(s string, expectedLen int) bool {
	if len(s) != expectedLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func uniqueSortedHashes(ids []Hash) []Hash {
	out := make([]Hash, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 0
	for i, h := range out {
		if i > 0 && h == out[n-1] {
			continue
		}
		out[n] = h
		n++
	}
	return out[:n]
}

// payloadBound is a scratch size that holds the compressed form of n
// bytes for every codec without regrowing.
func payloadBound(n int) int {
	return n + n/255 + 64
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
