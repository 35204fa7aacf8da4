package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/agrosync/harvest/internal/daemon"
	"github.com/agrosync/harvest/internal/dashboard"
	"github.com/agrosync/harvest/internal/engine"
	"github.com/agrosync/harvest/internal/metrics"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background sync daemon",
	Long: `Run sync cycles continuously in the background.

The daemon syncs at a fixed interval and immediately whenever the
trigger file is touched (the field UI touches it when connectivity
returns). With a dashboard port configured it also serves live status
over HTTP and WebSocket.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(cmd)
		if err != nil {
			fatalf("%v", err)
		}
		defer a.close()

		logger := daemonLogger(a.cfg.DaemonLogFile)

		registry := prometheus.NewRegistry()
		m := metrics.New(registry)

		var events *dashboard.Handler
		var server *dashboard.Server
		if a.cfg.DashboardPort > 0 {
			server = dashboard.NewServer(&dashboard.Config{
				Port:     a.cfg.DashboardPort,
				Source:   &storeStatus{db: a.db},
				Registry: registry,
				Logger:   log.New(logger.Writer(), "[dashboard] ", log.LstdFlags),
			})
			if err := server.Start(); err != nil {
				fatalf("failed to start dashboard: %v", err)
			}
			events = dashboard.NewHandler(server, logger)
			fmt.Printf("Dashboard: http://localhost:%d\n", a.cfg.DashboardPort)
		}

		var sink engine.EventSink
		if events != nil {
			sink = events
		}
		eng, err := a.buildEngine(m, sink, logger)
		if err != nil {
			fatalf("%v", err)
		}

		d, err := daemon.New(eng, &daemon.Config{
			Interval:    a.cfg.DaemonInterval,
			TriggerFile: a.cfg.TriggerFile,
			Logger:      logger,
		})
		if err != nil {
			fatalf("%v", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("Daemon running (interval %v, trigger %s)\n", a.cfg.DaemonInterval, a.cfg.TriggerFile)
		if err := d.Start(ctx); err != nil {
			fatalf("daemon failed: %v", err)
		}

		if server != nil {
			if err := server.Stop(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: dashboard shutdown error: %v\n", err)
			}
		}
	},
}

// daemonLogger writes to stderr, and additionally to a size-rotated log
// file when one is configured.
func daemonLogger(path string) *log.Logger {
	var w io.Writer = os.Stderr
	if path != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	return log.New(w, "[daemon] ", log.LstdFlags)
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
