package detector

import (
	"context"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
	"github.com/xkilldash9x/unigraph-cli/internal/sigcache"
)

// hashBufSize is the streaming read chunk; files are never slurped whole for
// hashing regardless of size.
const hashBufSize = 256 * 1024

// Detector classifies walker output against the signature cache.
type Detector struct {
	cache     *sigcache.Cache
	deepCheck bool
	log       *zap.Logger
}

// New builds a detector over the given cache. With deepCheck enabled, a
// size/mtime mismatch is confirmed by a streaming content hash before the
// file is reported as modified.
func New(cache *sigcache.Cache, deepCheck bool, logger *zap.Logger) *Detector {
	return &Detector{
		cache:     cache,
		deepCheck: deepCheck,
		log:       logger.Named("detector"),
	}
}

// Classify maps one walker entry to a change record. It updates only the
// in-memory working set; the persistent cache is flushed by the scanner after
// a successful commit, so a cancelled scan leaves the stored signatures
// untouched.
func (d *Detector) Classify(ctx context.Context, entry schemas.FileEntry) (schemas.ChangeRecord, error) {
	if err := ctx.Err(); err != nil {
		return schemas.ChangeRecord{}, &schemas.CancelledError{Stage: string(schemas.StageClassify)}
	}

	newSig := schemas.Signature{Size: entry.Size, MtimeNS: entry.ModTime.UnixNano()}
	old, ok := d.cache.Lookup(entry.Path)
	if !ok {
		if d.deepCheck {
			if h, err := hashFile(entry.AbsPath); err == nil {
				newSig.Hash = h
			} else {
				d.log.Debug("hash failed, keeping signature hashless", zap.String("path", entry.Path), zap.Error(err))
			}
		}
		d.cache.Put(entry.Path, newSig)
		return schemas.ChangeRecord{Path: entry.Path, Kind: schemas.ChangeNew, NewSig: &newSig}, nil
	}

	if old.Size == newSig.Size && old.MtimeNS == newSig.MtimeNS {
		d.cache.MarkVisited(entry.Path)
		return schemas.ChangeRecord{Path: entry.Path, Kind: schemas.ChangeUnchanged, OldSig: &old}, nil
	}

	// Size or mtime moved. Deep check can still prove the content identical,
	// e.g. after a touch(1) or a VCS checkout that bumps timestamps.
	if d.deepCheck && old.Hash != "" {
		h, err := hashFile(entry.AbsPath)
		if err != nil {
			d.log.Debug("hash failed during deep check", zap.String("path", entry.Path), zap.Error(err))
		} else if h == old.Hash && old.Size == newSig.Size {
			newSig.Hash = h
			d.cache.Put(entry.Path, newSig)
			return schemas.ChangeRecord{Path: entry.Path, Kind: schemas.ChangeUnchanged, OldSig: &old, NewSig: &newSig}, nil
		} else {
			newSig.Hash = h
		}
	} else if d.deepCheck {
		if h, err := hashFile(entry.AbsPath); err == nil {
			newSig.Hash = h
		}
	}

	d.cache.Put(entry.Path, newSig)
	return schemas.ChangeRecord{Path: entry.Path, Kind: schemas.ChangeModified, OldSig: &old, NewSig: &newSig}, nil
}

// Deletions returns a deleted-change record for every cached path the walk
// did not visit. Call after the walk completes.
func (d *Detector) Deletions() []schemas.ChangeRecord {
	missing := d.cache.Unvisited()
	records := make([]schemas.ChangeRecord, 0, len(missing))
	for _, p := range missing {
		old, _ := d.cache.Lookup(p)
		sig := old
		records = append(records, schemas.ChangeRecord{Path: p, Kind: schemas.ChangeDeleted, OldSig: &sig})
	}
	return records
}

// hashFile streams the file through xxhash64. The hex digest is the
// signature's content hash.
func hashFile(absPath string) (string, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxhash.New()
	buf := make([]byte, hashBufSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return schemas.FormatHash(h.Sum64()), nil
}
