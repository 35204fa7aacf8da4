// Package daemon provides the background sync daemon.
//
// The daemon runs a full sync cycle at a fixed interval, and
// additionally whenever the field UI touches the trigger file — a
// cheap cross-process signal that connectivity returned or the operator
// asked for an immediate sync. Trigger events are debounced so a burst
// of touches produces one cycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agrosync/harvest/internal/engine"
)

// Runner runs one full sync cycle. *engine.Engine implements it.
type Runner interface {
	RunSync(ctx context.Context) (*engine.SyncResult, error)
}

// Config holds daemon configuration.
type Config struct {
	// Interval between periodic sync cycles.
	Interval time.Duration

	// TriggerFile requests an immediate cycle when created or written.
	TriggerFile string

	// DebounceInterval batches rapid trigger touches together.
	DebounceInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:         5 * time.Minute,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates periodic and triggered sync cycles.
type Daemon struct {
	runner Runner
	config *Config

	watcher   *fsnotify.Watcher
	triggered chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Daemon with the given runner and configuration.
func New(runner Runner, config *Config) (*Daemon, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		runner:    runner,
		config:    config,
		triggered: make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start begins the daemon's operation: an initial sync cycle, then
// periodic cycles plus trigger-file watching. Blocks until ctx is
// cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if _, err := d.runner.RunSync(ctx); err != nil {
		// Offline at startup is normal; keep running.
		d.config.Logger.Printf("Initial sync failed: %v", err)
	}

	if d.config.TriggerFile != "" {
		if err := d.watchTrigger(); err != nil {
			return err
		}
		d.wg.Add(1)
		go d.watchFileEvents()
	}

	d.wg.Add(1)
	go d.runLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()
	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// watchTrigger watches the trigger file's directory; the file itself
// may not exist yet.
func (d *Daemon) watchTrigger() error {
	dir := filepath.Dir(d.config.TriggerFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create trigger directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch trigger directory: %w", err)
	}

	d.watcher = watcher
	d.config.Logger.Printf("Watching trigger: %s", d.config.TriggerFile)
	return nil
}

// watchFileEvents turns trigger-file writes into sync requests.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(d.config.TriggerFile) {
				continue
			}
			select {
			case d.triggered <- struct{}{}:
			default:
				// A cycle request is already pending.
			}

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// runLoop runs sync cycles on the periodic interval and on debounced
// trigger requests.
func (d *Daemon) runLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.runCycle("interval")

		case <-d.triggered:
			// Debounce: let a burst of touches settle first.
			time.Sleep(d.config.DebounceInterval)
			d.drainTrigger()
			d.runCycle("trigger")
			ticker.Reset(d.config.Interval)
		}
	}
}

func (d *Daemon) drainTrigger() {
	select {
	case <-d.triggered:
	default:
	}
}

func (d *Daemon) runCycle(cause string) {
	result, err := d.runner.RunSync(d.ctx)
	if errors.Is(err, engine.ErrSyncInProgress) {
		return
	}
	if err != nil {
		d.config.Logger.Printf("Sync (%s) failed: %v", cause, err)
		return
	}
	d.config.Logger.Printf("Sync (%s): uploaded=%d, remaining=%d",
		cause, result.Uploaded, result.Remaining)
}
