// Package engine orchestrates full sync cycles.
//
// A cycle is strictly Upload-then-Download, run as two sequential
// passes: draining the outbox first keeps the downloader from
// re-creating placeholders for mutations the uploader is mid-way
// through confirming. Mutations queued while a cycle runs are picked up
// by the next cycle. Only one cycle runs at a time per engine.
package engine

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/agrosync/harvest/internal/metrics"
	"github.com/agrosync/harvest/internal/snapshot"
	"github.com/agrosync/harvest/internal/upload"
)

// ErrSyncInProgress is returned when a cycle is requested while another
// one is still running.
var ErrSyncInProgress = errors.New("engine: sync already in progress")

// SyncResult reports the outcome of one full cycle to the caller: how
// many mutations were uploaded, how many remain queued and why, and
// what the snapshot rebuilt.
type SyncResult struct {
	Uploaded        int
	Failed          int
	Remaining       int
	Aborted         bool
	Failures        []upload.Failure
	SnapshotRecords int
	Replayed        int
	Duration        time.Duration
}

// EventSink receives sync lifecycle notifications (the dashboard
// implements this). A nil sink is valid.
type EventSink interface {
	SyncStarted()
	SyncCompleted(result SyncResult, err error)
}

// Engine runs upload and download passes as one unit.
type Engine struct {
	uploader   *upload.Uploader
	downloader *snapshot.Downloader
	metrics    *metrics.Metrics
	events     EventSink
	logger     *log.Logger

	mu      sync.Mutex
	running bool
}

// New creates an Engine. Metrics and events may be nil. If logger is
// nil, a default logger writing to stderr is used.
func New(uploader *upload.Uploader, downloader *snapshot.Downloader, m *metrics.Metrics, events EventSink, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{
		uploader:   uploader,
		downloader: downloader,
		metrics:    m,
		events:     events,
		logger:     logger,
	}
}

// RunSync performs one full cycle: an upload pass, then a snapshot
// download. The result is returned even when err is non-nil so callers
// can report partial progress. The store stays usable for local reads
// and further queuing regardless of outcome.
func (e *Engine) RunSync(ctx context.Context) (*SyncResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	if e.events != nil {
		e.events.SyncStarted()
	}

	start := time.Now()
	result := &SyncResult{}

	upRes, err := e.uploader.Run(ctx)
	if upRes != nil {
		result.Uploaded = upRes.Uploaded
		result.Failed = upRes.Failed
		result.Remaining = upRes.Remaining
		result.Aborted = upRes.Aborted
		result.Failures = upRes.Failures
	}
	if err != nil {
		result.Duration = time.Since(start)
		e.finish(result, err)
		return result, err
	}

	snapStats, err := e.downloader.Run(ctx)
	if snapStats != nil {
		result.SnapshotRecords = snapStats.Records
		result.Replayed = snapStats.Replayed
	}
	result.Duration = time.Since(start)
	e.finish(result, err)
	if err != nil {
		return result, err
	}

	e.logger.Printf("Sync cycle complete: uploaded=%d, failed=%d, remaining=%d, snapshot=%d, replayed=%d, took=%s",
		result.Uploaded, result.Failed, result.Remaining,
		result.SnapshotRecords, result.Replayed, result.Duration.Round(time.Millisecond))
	return result, nil
}

// RunSnapshot performs a download-only pass, skipping the outbox drain.
// Queued mutations stay queued; their placeholder effects are re-applied
// on top of the rebuilt data.
func (e *Engine) RunSnapshot(ctx context.Context) (*snapshot.Stats, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	return e.downloader.Run(ctx)
}

func (e *Engine) finish(result *SyncResult, err error) {
	e.metrics.RecordPass(err == nil, result.Uploaded, result.Failed, result.Remaining, result.SnapshotRecords)
	if e.events != nil {
		e.events.SyncCompleted(*result, err)
	}
}
