// Command harvest is the offline-first sync client for field harvest
// data. It keeps a local durable store the field UI reads and writes,
// queues mutations while offline, and reconciles them with the remote
// service whenever connectivity allows.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/agrosync/harvest/internal/config"
	"github.com/agrosync/harvest/internal/engine"
	"github.com/agrosync/harvest/internal/metrics"
	"github.com/agrosync/harvest/internal/outbox"
	"github.com/agrosync/harvest/internal/project"
	"github.com/agrosync/harvest/internal/remote"
	"github.com/agrosync/harvest/internal/snapshot"
	"github.com/agrosync/harvest/internal/store"
	"github.com/agrosync/harvest/internal/upload"
)

var (
	flagConfig string
	flagDBPath string
)

var rootCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Offline-first sync client for field harvest data",
	Long: `harvest keeps a local copy of plots, trees, crates and picks that
works fully offline. Mutations made in the field are queued locally and
uploaded to the remote service when connectivity returns; snapshots of
the authoritative dataset are downloaded and merged without losing
pending offline work.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default: harvest.yaml discovery)")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "Local store database file (overrides config)")
}

// app bundles the locally wired components every command needs.
type app struct {
	cfg   *config.Config
	db    *store.DB
	proj  *project.Projector
	queue *outbox.Outbox
}

// openApp loads configuration and opens the local store. Remote
// credentials are not required; commands that talk to the remote
// validate them separately.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDBPath != "" {
		cfg.DBPath = flagDBPath
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := db.InitSchema(cmd.Context()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	proj := project.New(nil)
	return &app{
		cfg:   cfg,
		db:    db,
		proj:  proj,
		queue: outbox.New(db, proj, nil),
	}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: error closing store: %v\n", err)
	}
}

// buildEngine wires the full sync engine against the configured remote.
func (a *app) buildEngine(m *metrics.Metrics, events engine.EventSink, logger *log.Logger) (*engine.Engine, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}

	client := remote.NewClient(remote.Config{
		BaseURL:    a.cfg.APIURL,
		AuthHeader: a.cfg.AuthHeader,
		AuthToken:  a.cfg.AuthToken,
		Country:    a.cfg.Country,
		Timeout:    a.cfg.RequestTimeout,
	}, logger)

	uploader := upload.New(a.db, client, a.proj, logger)
	downloader := snapshot.New(a.db, client, a.proj, logger)
	return engine.New(uploader, downloader, m, events, logger), nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
