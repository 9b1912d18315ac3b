// ABOUTME: Entry point for the speechlink uploader
// ABOUTME: Parses CLI flags over the YAML config and runs one upload, optionally with the status TUI
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/speechlink/speechlink-go/internal/app"
	"github.com/speechlink/speechlink-go/internal/config"
	"github.com/speechlink/speechlink-go/internal/logging"
	"github.com/speechlink/speechlink-go/internal/metrics"
	"github.com/speechlink/speechlink-go/internal/protocol"
	"github.com/speechlink/speechlink-go/internal/ui"
	"github.com/speechlink/speechlink-go/internal/version"
)

var (
	configPath  = flag.String("config", "", "YAML config file")
	url         = flag.String("url", "", "Server websocket URL (skip mDNS)")
	source      = flag.String("source", "", "Audio source: microphone, file, push or tone")
	file        = flag.String("file", "", "Audio file for the file and push sources")
	formatter   = flag.String("formatter", "", "Wire format: speech or json")
	monitor     = flag.Bool("monitor", false, "Play audio echoed by the server")
	useTUI      = flag.Bool("tui", false, "Show the status TUI")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	showVersion = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	os.Exit(realMain())
}

func realMain() int {
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	applyFlags(cfg)
	if err := cfg.ValidateClient(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	// TUI mode: log only to file
	var console io.Writer = os.Stderr
	if cfg.Client.UI {
		console = io.Discard
		if cfg.Logging.File == "" {
			cfg.Logging.File = "speechlink.log"
		}
	}
	logger, closeLog, err := logging.New(cfg.Logging, console)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer closeLog()

	if err := run(cfg, logger); err != nil {
		logging.Component(logger, "main").WithError(err).Error("Upload failed")
		return 1
	}
	return 0
}

func applyFlags(cfg *config.Config) {
	if *url != "" {
		cfg.Client.URL = *url
	}
	if *source != "" {
		cfg.Client.Source = *source
	}
	if *file != "" {
		cfg.Client.File = *file
	}
	if *formatter != "" {
		cfg.Client.Formatter = *formatter
	}
	if *monitor {
		cfg.Client.Monitor = true
	}
	if *useTUI {
		cfg.Client.UI = true
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if cfg.Client.URL == "" {
		cfg.Client.Discover = true
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	log := logging.Component(logger, "client")
	log.Infof("Starting %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sinks, closeSinks, err := app.EventSinks(cfg, version.Product, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	opts := []app.ClientOption{app.WithClientLogger(log)}
	if cfg.Metrics.Enabled {
		m := metrics.New(nil)
		defer app.ServeMetrics(cfg.Metrics, m, log)()
		opts = append(opts, app.WithClientMetrics(m))
	}

	if !cfg.Client.UI {
		end, err := app.NewClient(cfg, append(opts, app.WithClientSink(sinks))...).Run(ctx)
		if err != nil {
			return err
		}
		report(log, end)
		return nil
	}

	tui := ui.New("speechlink "+version.Version, nil)
	opts = append(opts, app.WithClientSink(append(sinks, tui.Sink())))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	result := make(chan error, 1)
	go func() {
		end, err := app.NewClient(cfg, opts...).Run(ctx)
		if err == nil {
			report(log, end)
		}
		tui.Done(end, err)
		result <- err
	}()
	go func() {
		select {
		case <-tui.QuitRequested():
			cancel()
		case <-ctx.Done():
			tui.Stop()
		}
	}()

	tuiErr := tui.Run()
	cancel()
	if err := <-result; err != nil {
		return err
	}
	if tuiErr != nil {
		return fmt.Errorf("TUI failed: %w", tuiErr)
	}
	return nil
}

func report(log *logrus.Entry, end *protocol.TurnEnd) {
	log.WithFields(logrus.Fields{
		"file":     end.File,
		"bytes":    end.Bytes,
		"duration": end.Duration,
	}).Info("Upload complete")
}
