package parserpool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
	"github.com/xkilldash9x/unigraph-cli/internal/unityyaml"
)

// assetExtensions routes Unity multi-document YAML files to the asset parser.
var assetExtensions = map[string]struct{}{
	".prefab":     {},
	".unity":      {},
	".scene":      {},
	".asset":      {},
	".mat":        {},
	".controller": {},
	".anim":       {},
}

// Pool fans changed files out to parser workers and funnels ParsedRecords
// into a single MPSC channel for the graph updater. Parsing is CPU-bound;
// worker count is capped at the CPU count by the caller's config.
type Pool struct {
	projectRoot    string
	workers        int
	perFileTimeout time.Duration
	meta           *unityyaml.MetaParser
	asset          *unityyaml.AssetParser
	log            *zap.Logger
}

// New builds a pool.
func New(projectRoot string, workers int, perFileTimeout time.Duration, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		projectRoot:    projectRoot,
		workers:        workers,
		perFileTimeout: perFileTimeout,
		meta:           unityyaml.NewMetaParser(),
		asset:          unityyaml.NewAssetParser(logger),
		log:            logger.Named("parserpool"),
	}
}

// ErrorSink collects the per-file failures a scan accumulates. Implementations
// must be safe for concurrent use.
type ErrorSink interface {
	ParseError(*schemas.ParseError)
	IoError(*schemas.IoError)
}

// Run consumes change records until the channel closes or the context is
// cancelled, emitting parsed records. The records channel is closed when all
// workers finish, making it safe for a single downstream consumer to range
// over. Individual file failures go to the sink and never stop the pool.
func (p *Pool) Run(ctx context.Context, changes <-chan schemas.ChangeRecord, records chan<- schemas.ParsedRecord, sink ErrorSink) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.workers; i++ {
		workerID := i + 1
		g.Go(func() error {
			log := p.log.With(zap.Int("worker_id", workerID))
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case change, ok := <-changes:
					if !ok {
						return nil
					}
					record, ok := p.parseOne(ctx, change, log, sink)
					if !ok {
						continue
					}
					select {
					case records <- record:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		})
	}

	err := g.Wait()
	close(records)
	return err
}

// parseOne dispatches a single change record to the right parser. The bool
// result reports whether a record was produced.
func (p *Pool) parseOne(ctx context.Context, change schemas.ChangeRecord, log *zap.Logger, sink ErrorSink) (schemas.ParsedRecord, bool) {
	if change.Kind == schemas.ChangeDeleted {
		return schemas.ParsedRecord{Kind: schemas.RecordDeleted, Path: change.Path, Signature: change.OldSig}, true
	}

	abs := filepath.Join(p.projectRoot, filepath.FromSlash(change.Path))
	parseCtx := ctx
	if p.perFileTimeout > 0 {
		var cancel context.CancelFunc
		parseCtx, cancel = context.WithTimeout(ctx, p.perFileTimeout)
		defer cancel()
	}

	ext := strings.ToLower(filepath.Ext(change.Path))
	switch {
	case ext == ".meta":
		return p.parseMeta(change, abs, sink)
	case ext == ".cs":
		return p.parseScript(change, abs, sink)
	default:
		if _, ok := assetExtensions[ext]; !ok {
			log.Debug("no parser for extension, skipping", zap.String("path", change.Path))
			return schemas.ParsedRecord{}, false
		}
		return p.parseAsset(parseCtx, change, abs, sink)
	}
}

func (p *Pool) parseMeta(change schemas.ChangeRecord, abs string, sink ErrorSink) (schemas.ParsedRecord, bool) {
	info, warning, err := p.meta.ParseFile(abs)
	if err != nil {
		reportError(err, change.Path, sink)
		return schemas.ParsedRecord{}, false
	}
	if warning != nil {
		sink.ParseError(warning)
	}
	return schemas.ParsedRecord{
		Kind:      schemas.RecordMeta,
		Path:      change.Path,
		Signature: change.NewSig,
		Meta:      info,
	}, true
}

func (p *Pool) parseAsset(ctx context.Context, change schemas.ChangeRecord, abs string, sink ErrorSink) (schemas.ParsedRecord, bool) {
	result, err := p.asset.ParseFile(ctx, abs)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			sink.ParseError(&schemas.ParseError{Path: change.Path, Kind: schemas.ParseTimeout, Detail: "per-file parse deadline exceeded"})
			return schemas.ParsedRecord{}, false
		}
		reportError(err, change.Path, sink)
		return schemas.ParsedRecord{}, false
	}
	if result.MalformedDocs > 0 {
		sink.ParseError(&schemas.ParseError{
			Path:   change.Path,
			Kind:   schemas.ParseMalformedYAML,
			Detail: "documents recovered via raw-text extraction",
		})
	}
	return schemas.ParsedRecord{
		Kind:       schemas.RecordAsset,
		Path:       change.Path,
		Signature:  change.NewSig,
		References: result.References,
	}, true
}

func (p *Pool) parseScript(change schemas.ChangeRecord, abs string, sink ErrorSink) (schemas.ParsedRecord, bool) {
	menu, err := unityyaml.ScanScript(abs)
	if err != nil {
		sink.IoError(&schemas.IoError{Path: change.Path, Cause: err})
		return schemas.ParsedRecord{}, false
	}
	return schemas.ParsedRecord{
		Kind:            schemas.RecordScript,
		Path:            change.Path,
		Signature:       change.NewSig,
		CreateAssetMenu: menu,
	}, true
}

func reportError(err error, path string, sink ErrorSink) {
	switch e := err.(type) {
	case *schemas.ParseError:
		sink.ParseError(e)
	case *schemas.IoError:
		sink.IoError(e)
	case *schemas.CancelledError:
		// Cancellation surfaces through the context, not the sink.
	default:
		if os.IsNotExist(err) {
			// Deleted between walk and parse; the next scan sweeps it.
			return
		}
		sink.IoError(&schemas.IoError{Path: path, Cause: err})
	}
}
