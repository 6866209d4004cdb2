package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/unigraph-cli/api/schemas"
	"github.com/xkilldash9x/unigraph-cli/internal/config"
	"github.com/xkilldash9x/unigraph-cli/internal/detector"
	"github.com/xkilldash9x/unigraph-cli/internal/graph"
	"github.com/xkilldash9x/unigraph-cli/internal/parserpool"
	"github.com/xkilldash9x/unigraph-cli/internal/sigcache"
	"github.com/xkilldash9x/unigraph-cli/internal/store"
	"github.com/xkilldash9x/unigraph-cli/internal/walker"
)

// Scanner orchestrates the pipeline: walker -> change detector -> parser
// pool -> graph updater -> persistence. One Scanner instance runs one scan
// at a time.
type Scanner struct {
	cfg         *config.Config
	projectRoot string
	persist     *store.Store
	graphStore  *graph.Store
	updater     *graph.Updater
	progress    schemas.ProgressFunc
	log         *zap.Logger
}

// New wires a scanner. progress may be nil.
func New(cfg *config.Config, projectRoot string, persist *store.Store, graphStore *graph.Store, updater *graph.Updater, progress schemas.ProgressFunc, logger *zap.Logger) *Scanner {
	if progress == nil {
		progress = func(schemas.ProgressEvent) {}
	}
	return &Scanner{
		cfg:         cfg,
		projectRoot: projectRoot,
		persist:     persist,
		graphStore:  graphStore,
		updater:     updater,
		progress:    progress,
		log:         logger.Named("scanner"),
	}
}

// reportSink accumulates per-file errors concurrently; it satisfies
// parserpool.ErrorSink.
type reportSink struct {
	mu     sync.Mutex
	report *schemas.ScanReport
}

func (s *reportSink) ParseError(e *schemas.ParseError) {
	s.mu.Lock()
	s.report.ParseErrors = append(s.report.ParseErrors, e)
	s.mu.Unlock()
}

func (s *reportSink) IoError(e *schemas.IoError) {
	s.mu.Lock()
	s.report.IoErrors = append(s.report.IoErrors, e)
	s.mu.Unlock()
}

func (s *reportSink) Unresolved(e *schemas.ResolveError) {
	s.mu.Lock()
	s.report.Unresolved = append(s.report.Unresolved, e)
	s.mu.Unlock()
}

func (s *reportSink) Skipped(f schemas.SkippedFile) {
	s.mu.Lock()
	s.report.SkippedFiles = append(s.report.SkippedFiles, f)
	s.mu.Unlock()
}

// Run executes one scan. A full scan reparses every candidate file; an
// incremental scan reparses only files whose signatures moved. Cancellation
// aborts cleanly at the next channel boundary: completed transactions stay
// committed in memory, but neither graph nor signatures are flushed to disk.
func (s *Scanner) Run(ctx context.Context, scanType schemas.ScanType, overridePaths []string) (*schemas.ScanReport, error) {
	report := &schemas.ScanReport{
		ScanID:      uuid.NewString(),
		Type:        scanType,
		Status:      schemas.ScanRunning,
		ProjectRoot: s.projectRoot,
		StartedAt:   time.Now().UTC(),
	}
	sink := &reportSink{report: report}
	full := scanType == schemas.ScanFull

	seed, err := s.persist.LoadSignatures(ctx)
	if err != nil {
		return s.finish(ctx, report, schemas.ScanFailed), err
	}
	cache := sigcache.New(seed)
	det := detector.New(cache, s.cfg.Scan.DeepCheck, s.log)

	roots := s.cfg.Scan.Paths
	if len(overridePaths) > 0 {
		roots = overridePaths
	}
	w := walker.New(s.projectRoot, walker.Options{
		Roots:          roots,
		IncludeExts:    s.cfg.Scan.FileExtensions,
		ExcludeGlobs:   s.cfg.Scan.ExcludePaths,
		FollowSymlinks: s.cfg.Scan.FollowSymlinks,
		IgnoreHidden:   s.cfg.Scan.IgnoreHiddenFiles,
		MaxFileSize:    s.cfg.Scan.MaxFileSizeBytes(),
	}, s.log)

	queueSize := s.cfg.Performance.BatchSize
	work := make(chan schemas.ChangeRecord, queueSize)
	records := make(chan schemas.ParsedRecord, queueSize)

	var (
		walkErr   error
		walkWG    sync.WaitGroup
		walkStats struct {
			mu                                          sync.Mutex
			walked, added, modified, unchanged, deleted int
		}
	)

	// Producer: walk, classify, feed the bounded work queue. The queue send
	// blocks when parsers fall behind, which is the backpressure.
	walkWG.Add(1)
	go func() {
		defer walkWG.Done()
		defer close(work)

		visit := walker.Visitor{
			File: func(entry schemas.FileEntry) error {
				record, cerr := det.Classify(ctx, entry)
				if cerr != nil {
					return cerr
				}
				walkStats.mu.Lock()
				walkStats.walked++
				switch record.Kind {
				case schemas.ChangeNew:
					walkStats.added++
				case schemas.ChangeModified:
					walkStats.modified++
				case schemas.ChangeUnchanged:
					walkStats.unchanged++
				}
				walked := walkStats.walked
				walkStats.mu.Unlock()

				if walked%500 == 0 {
					s.progress(schemas.ProgressEvent{Stage: schemas.StageWalk, Processed: walked})
				}

				if record.Kind == schemas.ChangeUnchanged {
					if !full {
						return nil
					}
					record.Kind = schemas.ChangeModified
					if record.NewSig == nil {
						record.NewSig = record.OldSig
					}
				}
				select {
				case work <- record:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
			Skipped: sink.Skipped,
			IoError: sink.IoError,
		}

		if err := w.Walk(ctx, visit); err != nil {
			walkErr = err
			return
		}

		// Post-walk sweep: everything cached but unvisited is gone.
		for _, record := range det.Deletions() {
			walkStats.mu.Lock()
			walkStats.deleted++
			walkStats.mu.Unlock()
			select {
			case work <- record:
			case <-ctx.Done():
				walkErr = ctx.Err()
				return
			}
		}
	}()

	pool := parserpool.New(
		s.projectRoot,
		s.cfg.Performance.WorkerCount(),
		time.Duration(s.cfg.Performance.PerFileTimeoutS)*time.Second,
		s.log,
	)
	var poolErr error
	var poolWG sync.WaitGroup
	poolWG.Add(1)
	go func() {
		defer poolWG.Done()
		poolErr = pool.Run(ctx, work, records, sink)
	}()

	// Single consumer: the updater applies transactions in arrival order.
	apply := newApplier(s.cfg, s.projectRoot, s.graphStore, s.updater, cache, sink, s.progress, s.log)
	applyErr := apply.consume(ctx, records)

	walkWG.Wait()
	poolWG.Wait()

	walkStats.mu.Lock()
	report.FilesWalked = walkStats.walked
	report.FilesNew = walkStats.added
	report.FilesModified = walkStats.modified
	report.FilesUnchanged = walkStats.unchanged
	report.FilesDeleted = walkStats.deleted
	walkStats.mu.Unlock()
	apply.fill(report)

	cancelled := ctx.Err() != nil ||
		errors.Is(walkErr, context.Canceled) || errors.Is(poolErr, context.Canceled) || errors.Is(applyErr, context.Canceled)
	if cancelled {
		s.log.Warn("scan cancelled", zap.String("scan_id", report.ScanID))
		return s.finish(context.WithoutCancel(ctx), report, schemas.ScanCancelled), context.Canceled
	}
	for _, err := range []error{walkErr, poolErr, applyErr} {
		if err != nil {
			s.log.Error("scan failed", zap.String("scan_id", report.ScanID), zap.Error(err))
			return s.finish(ctx, report, schemas.ScanFailed), err
		}
	}

	// Durable flush: graph snapshot first, then signatures, so a crash
	// between the two re-scans files instead of losing graph state.
	s.progress(schemas.ProgressEvent{Stage: schemas.StagePersist, Message: "writing graph snapshot"})
	if s.cfg.Persistence.BackupEnabled {
		if _, err := s.persist.Backup(); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("store backup failed", zap.Error(err))
		}
	}
	if err := s.persist.SaveGraph(ctx, s.graphStore.Export()); err != nil {
		return s.finish(ctx, report, schemas.ScanFailed), err
	}
	if err := s.persist.SaveSignatures(ctx, cache.Snapshot(), report.ScanID); err != nil {
		return s.finish(ctx, report, schemas.ScanFailed), err
	}

	return s.finish(ctx, report, schemas.ScanCompleted), nil
}

func (s *Scanner) finish(ctx context.Context, report *schemas.ScanReport, status schemas.ScanStatus) *schemas.ScanReport {
	report.Status = status
	report.FinishedAt = time.Now().UTC()
	if err := s.persist.SaveScanReport(ctx, report); err != nil {
		s.log.Warn("failed to record scan history", zap.Error(err))
	}
	s.log.Info("scan finished",
		zap.String("scan_id", report.ScanID),
		zap.String("status", string(status)),
		zap.Int("files_walked", report.FilesWalked),
		zap.Int("transactions_committed", report.TransactionsCommitted),
		zap.Duration("duration", report.Duration()),
	)
	return report
}

// applier is the updater-side consumer. Meta and deletion records apply as
// they arrive; asset and script records are buffered until every node is in
// place, then edges are rebuilt per source file.
type applier struct {
	cfg         *config.Config
	projectRoot string
	graphStore  *graph.Store
	updater     *graph.Updater
	cache       *sigcache.Cache
	sink        *reportSink
	progress    schemas.ProgressFunc
	log         *zap.Logger

	assetRecords  []schemas.ParsedRecord
	scriptRecords []schemas.ParsedRecord

	committed, failed, rolledBack   int
	nodesUpserted, nodesDeactivated int
	edgesAdded, edgesRemoved        int
	parsed                          int
}

func newApplier(cfg *config.Config, projectRoot string, graphStore *graph.Store, updater *graph.Updater, cache *sigcache.Cache, sink *reportSink, progress schemas.ProgressFunc, log *zap.Logger) *applier {
	return &applier{
		cfg:         cfg,
		projectRoot: projectRoot,
		graphStore:  graphStore,
		updater:     updater,
		cache:       cache,
		sink:        sink,
		progress:    progress,
		log:         log.Named("applier"),
	}
}

func (a *applier) consume(ctx context.Context, records <-chan schemas.ParsedRecord) error {
	for record := range records {
		if err := ctx.Err(); err != nil {
			// Drain without applying; producers stop on the same context.
			continue
		}
		a.parsed++
		switch record.Kind {
		case schemas.RecordMeta:
			a.applyMeta(record)
		case schemas.RecordDeleted:
			a.applyDeleted(record)
		case schemas.RecordAsset:
			a.assetRecords = append(a.assetRecords, record)
		case schemas.RecordScript:
			a.scriptRecords = append(a.scriptRecords, record)
		}
		if a.parsed%500 == 0 {
			a.progress(schemas.ProgressEvent{Stage: schemas.StageParse, Processed: a.parsed})
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Phase two: all meta-derived nodes exist now; resolve references and
	// rebuild edges per source file.
	a.progress(schemas.ProgressEvent{Stage: schemas.StageUpdate, Total: len(a.assetRecords), Message: "rebuilding edges"})
	for i, record := range a.assetRecords {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.applyAsset(record)
		if (i+1)%500 == 0 {
			a.progress(schemas.ProgressEvent{Stage: schemas.StageUpdate, Processed: i + 1, Total: len(a.assetRecords)})
		}
	}
	for _, record := range a.scriptRecords {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.applyScript(record)
	}
	return ctx.Err()
}

// applyMeta upserts the asset node a .meta file describes. An upsert that
// would change nothing is dropped, so an mtime-only touch commits nothing.
func (a *applier) applyMeta(record schemas.ParsedRecord) {
	assetPath := strings.TrimSuffix(record.Path, ".meta")
	node := schemas.Node{
		GUID:             record.Meta.GUID,
		Path:             assetPath,
		Kind:             schemas.ClassifyAsset(record.Meta.Importer, assetPath),
		ImporterKind:     record.Meta.Importer,
		ImporterMetadata: record.Meta.ImporterMetadata,
		Active:           true,
	}
	if record.Signature != nil {
		node.ContentHash = record.Signature.Hash
	}
	if info, err := os.Stat(filepath.Join(a.projectRoot, filepath.FromSlash(assetPath))); err == nil {
		node.SizeBytes = info.Size()
		node.LastModified = info.ModTime().UTC()
	}

	if existing, ok := a.graphStore.Node(node.GUID); ok {
		node.IsAnalyzed = existing.IsAnalyzed
		if nodeEquivalent(existing, node) {
			return
		}
	}

	tx := a.updater.Begin()
	tx.AddNode(node)
	a.commit(tx)
}

// applyDeleted handles a vanished path. A deleted .meta deactivates the
// node; a deleted asset file only clears the node's outgoing edges, since
// the GUID survives until its .meta goes too.
func (a *applier) applyDeleted(record schemas.ParsedRecord) {
	defer a.cache.Remove(record.Path)

	if strings.HasSuffix(record.Path, ".meta") {
		assetPath := strings.TrimSuffix(record.Path, ".meta")
		guid, ok := a.graphStore.ResolvePath(assetPath)
		if !ok {
			return
		}
		tx := a.updater.Begin()
		tx.DeactivateNode(guid)
		a.commit(tx)
		return
	}

	guid, ok := a.graphStore.ResolvePath(record.Path)
	if !ok {
		return
	}
	node, _ := a.graphStore.Node(guid)
	node.IsAnalyzed = false
	tx := a.updater.Begin()
	tx.UpdateNode(node)
	tx.ReplaceEdgesFrom(guid, nil)
	a.commit(tx)
}

// applyAsset resolves references and rebuilds the source's outgoing edges
// wholesale. Dangling targets are skipped with a warning, never committed.
func (a *applier) applyAsset(record schemas.ParsedRecord) {
	sourceGUID, ok := a.graphStore.ResolvePath(record.Path)
	if !ok {
		a.sink.Unresolved(&schemas.ResolveError{
			SourceGUID: record.Path,
			Reason:     "asset has no .meta companion; references skipped",
		})
		return
	}

	edges := make([]schemas.Edge, 0, len(record.References))
	for _, ref := range record.References {
		target, exists := a.graphStore.Node(ref.TargetGUID)
		if !exists || !target.Active {
			a.sink.Unresolved(&schemas.ResolveError{
				SourceGUID: sourceGUID,
				TargetGUID: ref.TargetGUID,
				Reason:     "reference target has no known asset",
			})
			continue
		}
		edges = append(edges, schemas.Edge{
			Source:        sourceGUID,
			Target:        ref.TargetGUID,
			Kind:          ref.Kind,
			Strength:      ref.Strength,
			ContextPath:   ref.ContextPath,
			ComponentType: ref.ComponentType,
			PropertyName:  ref.PropertyName,
			SourceFileID:  ref.SourceFileID,
		})
	}

	tx := a.updater.Begin()
	if node, ok := a.graphStore.Node(sourceGUID); ok && !node.IsAnalyzed {
		node.IsAnalyzed = true
		tx.UpdateNode(node)
	}
	tx.ReplaceEdgesFrom(sourceGUID, edges)
	a.commit(tx)
}

// applyScript annotates a script node with its CreateAssetMenu marker.
func (a *applier) applyScript(record schemas.ParsedRecord) {
	guid, ok := a.graphStore.ResolvePath(record.Path)
	if !ok {
		return
	}
	node, _ := a.graphStore.Node(guid)
	if record.CreateAssetMenu == "" {
		if _, had := node.ImporterMetadata["create_asset_menu"]; !had {
			return
		}
		delete(node.ImporterMetadata, "create_asset_menu")
	} else {
		if node.ImporterMetadata == nil {
			node.ImporterMetadata = make(map[string]string)
		}
		if node.ImporterMetadata["create_asset_menu"] == record.CreateAssetMenu {
			return
		}
		node.ImporterMetadata["create_asset_menu"] = record.CreateAssetMenu
	}

	tx := a.updater.Begin()
	tx.UpdateNode(node)
	a.commit(tx)
}

func (a *applier) commit(tx *graph.Tx) {
	result, err := tx.Commit()
	if result != nil {
		switch result.Status {
		case graph.TxCommitted:
			a.committed++
			a.nodesUpserted += result.NodesUpserted
			a.nodesDeactivated += result.NodesRemoved
			a.edgesAdded += result.EdgesAdded
			a.edgesRemoved += result.EdgesRemoved
		case graph.TxFailed:
			a.failed++
		case graph.TxRolledBack:
			a.rolledBack++
		}
	}
	if err != nil {
		var conflictErr *schemas.ConflictError
		if errors.As(err, &conflictErr) {
			a.log.Warn("transaction rejected", zap.String("transaction_id", conflictErr.TransactionID), zap.Int("conflicts", len(conflictErr.Conflicts)))
			return
		}
		a.log.Error("transaction failed", zap.Error(err))
	}
}

func (a *applier) fill(report *schemas.ScanReport) {
	report.FilesParsed = a.parsed
	report.TransactionsCommitted = a.committed
	report.TransactionsFailed = a.failed
	report.TransactionsRolledBack = a.rolledBack
	report.NodesUpserted = a.nodesUpserted
	report.NodesDeactivated = a.nodesDeactivated
	report.EdgesAdded = a.edgesAdded
	report.EdgesRemoved = a.edgesRemoved
}

// nodeEquivalent compares the fields a reparse is allowed to change. Last
// modified time and analysis state are bookkeeping, not content; hashes only
// count when both sides carry one.
func nodeEquivalent(a, b schemas.Node) bool {
	if a.Path != b.Path || a.Kind != b.Kind || a.ImporterKind != b.ImporterKind || !a.Active || a.SizeBytes != b.SizeBytes {
		return false
	}
	if a.ContentHash != "" && b.ContentHash != "" && a.ContentHash != b.ContentHash {
		return false
	}
	if len(a.ImporterMetadata) != len(b.ImporterMetadata) {
		return false
	}
	for k, v := range a.ImporterMetadata {
		if b.ImporterMetadata[k] != v {
			return false
		}
	}
	return true
}
