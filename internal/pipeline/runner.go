package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/iati-climate-dataset/internal/dataset"
	"github.com/JakeFAU/iati-climate-dataset/internal/export"
	"github.com/JakeFAU/iati-climate-dataset/internal/metrics"
	"github.com/JakeFAU/iati-climate-dataset/internal/progress"
)

// ReadyEvent is the notification name published after a dataset is stored.
const ReadyEvent = "dataset.ready"

// ErrInvalidPublisherRef is returned for references that cannot name an output file.
var ErrInvalidPublisherRef = errors.New("invalid publisher reference")

const failureRecordTimeout = 5 * time.Second

// RunnerConfig controls labeling, balancing, and export.
type RunnerConfig struct {
	ClimateTag  string
	Seed        uint64
	BlobPrefix  string
	ContentType string
	// Publish enables the dataset-ready notification.
	Publish bool
}

// Runner executes one dataset build per call to Run.
type Runner struct {
	source    PageSource
	blobStore BlobStore
	runStore  RunStore
	publisher Publisher
	hasher    Hasher
	clock     Clock
	ids       IDGenerator
	emitter   progress.Emitter
	status    io.Writer
	cfg       RunnerConfig
	logger    *zap.Logger
}

// NewRunner constructs a Runner. A nil emitter discards progress events and a
// nil status writer discards the console summary lines.
func NewRunner(
	source PageSource,
	blobStore BlobStore,
	runStore RunStore,
	publisher Publisher,
	hasher Hasher,
	clock Clock,
	ids IDGenerator,
	emitter progress.Emitter,
	status io.Writer,
	cfg RunnerConfig,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if status == nil {
		status = io.Discard
	}
	if cfg.ClimateTag == "" {
		cfg.ClimateTag = dataset.DefaultClimateTag
	}
	if cfg.ContentType == "" {
		cfg.ContentType = export.ContentType
	}
	metrics.Init()
	return &Runner{
		source:    source,
		blobStore: blobStore,
		runStore:  runStore,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		ids:       ids,
		emitter:   emitter,
		status:    status,
		cfg:       cfg,
		logger:    logger,
	}
}

// ValidatePublisherRef rejects references that are empty or would escape the
// output directory or break the search query.
func ValidatePublisherRef(ref string) error {
	if strings.TrimSpace(ref) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPublisherRef)
	}
	if strings.ContainsAny(ref, `/\"`) || ref == "." || ref == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidPublisherRef, ref)
	}
	return nil
}

// Run fetches every activity reported by publisherRef, labels, deduplicates,
// and balances them, then stores the CSV and records the run. Nothing is
// written to the blob store unless every earlier step succeeded.
func (r *Runner) Run(ctx context.Context, publisherRef string) (Run, error) {
	if err := ValidatePublisherRef(publisherRef); err != nil {
		return Run{}, err
	}
	rawID, err := r.ids.NewRawID()
	if err != nil {
		return Run{}, fmt.Errorf("new run id: %w", err)
	}
	run := Run{
		ID:           rawID.String(),
		PublisherRef: publisherRef,
		Status:       RunStatusRunning,
		Started:      r.clock.Now(),
	}
	logger := r.logger.With(zap.String("run_id", run.ID), zap.String("publisher_ref", publisherRef))
	r.emit(rawID, progress.Event{Stage: progress.StageRunStart, PublisherRef: publisherRef})
	logger.Info("dataset build started")

	if err := r.runStore.RecordRun(ctx, run); err != nil {
		return r.fail(ctx, logger, rawID, run, fmt.Errorf("record run start: %w", err))
	}

	rows, err := r.collect(ctx, rawID, &run)
	if err != nil {
		return r.fail(ctx, logger, rawID, run, err)
	}
	metrics.ObserveRows(metrics.StageFetched, run.Fetched)

	unique := dataset.Deduplicate(rows)
	run.Unique = len(unique)
	metrics.ObserveRows(metrics.StageUnique, run.Unique)

	r.flushProgress(ctx, logger)
	r.printf("Balancing dataset...\n")
	r.printf("Rows prior to balancing: %d.\n", len(unique))
	logger.Info("balancing dataset", zap.Int("rows", len(unique)))
	balanced, err := dataset.Balance(unique, r.cfg.Seed)
	if err != nil {
		return r.fail(ctx, logger, rawID, run, fmt.Errorf("balance: %w", err))
	}
	r.printf("Rows after balancing: %d.\n", len(balanced))
	run.Balanced = len(balanced)
	run.Counts = dataset.Count(balanced)
	metrics.ObserveRows(metrics.StageBalanced, run.Balanced)

	size, err := r.persist(ctx, &run, balanced)
	if err != nil {
		return r.fail(ctx, logger, rawID, run, err)
	}

	run.Status = RunStatusSucceeded
	run.Finished = r.clock.Now()
	if err := r.runStore.RecordRun(ctx, run); err != nil {
		return r.fail(ctx, logger, rawID, run, fmt.Errorf("record run: %w", err))
	}
	r.publishReady(ctx, logger, run)

	elapsed := run.Finished.Sub(run.Started)
	metrics.ObserveWritten(run.Counts.Related, run.Counts.Unrelated, size)
	metrics.ObserveRun(string(run.Status), elapsed)
	r.emit(rawID, progress.Event{
		Stage:        progress.StageRunDone,
		PublisherRef: publisherRef,
		Records:      int64(run.Balanced),
		Dur:          nonNegative(elapsed),
	})
	logger.Info("dataset build finished",
		zap.Int("pages", run.Pages),
		zap.Int("fetched", run.Fetched),
		zap.Int("unique", run.Unique),
		zap.Int("balanced", run.Balanced),
		zap.String("blob_uri", run.BlobURI),
		zap.String("hash", run.ContentHash),
	)
	return run, nil
}

func (r *Runner) collect(ctx context.Context, runID uuid.UUID, run *Run) ([]dataset.Row, error) {
	var rows []dataset.Row
	for page, err := range r.source.Pages(ctx, run.PublisherRef) {
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", run.Pages+1, err)
		}
		run.Pages++
		run.Fetched += len(page.Activities)
		r.emit(runID, progress.Event{
			Stage:        progress.StagePageDone,
			PublisherRef: run.PublisherRef,
			Page:         page.Number,
			Records:      int64(len(page.Activities)),
			Total:        int64(max(page.NumFound, 0)),
			Cursor:       page.Cursor,
			Dur:          nonNegative(page.Duration),
		})
		labeled, err := dataset.ClassifyAll(page.Activities, r.cfg.ClimateTag)
		if err != nil {
			return nil, fmt.Errorf("classify page %d: %w", page.Number, err)
		}
		rows = append(rows, labeled...)
	}
	return rows, nil
}

func (r *Runner) persist(ctx context.Context, run *Run, rows []dataset.Row) (int, error) {
	data, err := export.EncodeCSV(rows)
	if err != nil {
		return 0, fmt.Errorf("encode csv: %w", err)
	}
	hash, err := r.hasher.Hash(data)
	if err != nil {
		return 0, fmt.Errorf("hash csv: %w", err)
	}
	name := export.ObjectName(r.cfg.BlobPrefix, run.PublisherRef)
	uri, err := r.blobStore.PutObject(ctx, name, r.cfg.ContentType, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("put object: %w", err)
	}
	run.BlobURI = uri
	run.ContentHash = hash
	return len(data), nil
}

// publishReady is best-effort: the dataset is already stored and recorded.
func (r *Runner) publishReady(ctx context.Context, logger *zap.Logger, run Run) {
	if !r.cfg.Publish || r.publisher == nil {
		return
	}
	payload := ReadyNotification{
		RunID:        run.ID,
		PublisherRef: run.PublisherRef,
		BlobURI:      run.BlobURI,
		ContentHash:  run.ContentHash,
		Rows:         run.Balanced,
	}
	id, err := r.publisher.Publish(ctx, ReadyEvent, payload)
	if err != nil {
		logger.Warn("dataset notification failed", zap.Error(err))
		return
	}
	logger.Info("dataset notification published", zap.String("message_id", id))
}

func (r *Runner) fail(ctx context.Context, logger *zap.Logger, runID uuid.UUID, run Run, cause error) (Run, error) {
	run.Status = RunStatusFailed
	run.Finished = r.clock.Now()
	run.ErrorText = cause.Error()
	elapsed := run.Finished.Sub(run.Started)

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureRecordTimeout)
	defer cancel()
	if err := r.runStore.RecordRun(recordCtx, run); err != nil {
		logger.Warn("record failed run", zap.Error(err))
	}

	metrics.ObserveRun(string(run.Status), elapsed)
	r.emit(runID, progress.Event{
		Stage:        progress.StageRunError,
		PublisherRef: run.PublisherRef,
		Dur:          nonNegative(elapsed),
		Note:         run.ErrorText,
	})
	logger.Error("dataset build failed", zap.Error(cause))
	return run, cause
}

func (r *Runner) emit(runID uuid.UUID, evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(runID)
	evt.TS = r.clock.Now()
	r.emitter.Emit(evt)
}

// flushProgress lets a progress bar finish drawing before the summary lines.
func (r *Runner) flushProgress(ctx context.Context, logger *zap.Logger) {
	f, ok := r.emitter.(progress.Flusher)
	if !ok {
		return
	}
	if err := f.Flush(ctx); err != nil {
		logger.Debug("progress flush failed", zap.Error(err))
	}
}

func (r *Runner) printf(format string, args ...any) {
	if _, err := fmt.Fprintf(r.status, format, args...); err != nil {
		r.logger.Debug("status write failed", zap.Error(err))
	}
}

func nonNegative(d time.Duration) time.Duration {
	return max(d, 0)
}
