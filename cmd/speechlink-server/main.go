// ABOUTME: Entry point for the speechlink ingest server
// ABOUTME: Parses CLI flags over the YAML config and serves uploads until interrupted
package main

import (
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
	"github.com/speechlink/speechlink-go/internal/server"
	"github.com/speechlink/speechlink-go/internal/ui"
	"github.com/speechlink/speechlink-go/internal/version"
)

var (
	configPath = flag.String("config", "", "YAML config file")
	addr       = flag.String("addr", "", "Listen address (default :8927)")
	name       = flag.String("name", "", "Server friendly name (default: hostname-speechlink-server)")
	outputDir  = flag.String("output", "", "Directory for recorded turns")
	echo       = flag.Bool("echo", false, "Echo decoded audio back to uploaders")
	dropAfter  = flag.Int("drop-after", -1, "Drop each session once after this many audio messages")
	noMDNS     = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	useTUI     = flag.Bool("tui", false, "Show the session TUI")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")

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
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	var console io.Writer = os.Stdout
	if *useTUI {
		console = io.Discard
		if cfg.Logging.File == "" {
			cfg.Logging.File = "speechlink-server.log"
		}
	}
	logger, closeLog, err := logging.New(cfg.Logging, console)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer closeLog()

	if err := run(cfg, logger); err != nil {
		logging.Component(logger, "main").WithError(err).Error("Server error")
		return 1
	}
	return 0
}

func applyFlags(cfg *config.Config) {
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *outputDir != "" {
		cfg.Server.OutputDir = *outputDir
	}
	if *echo {
		cfg.Server.Echo = true
	}
	if *dropAfter >= 0 {
		cfg.Server.DropAfter = *dropAfter
	}
	if *noMDNS {
		cfg.Server.Advertise = false
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if *name != "" {
		cfg.Server.Name = *name
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	log := logging.Component(logger, "main")
	log.WithFields(logrus.Fields{
		"addr":   cfg.Server.Addr,
		"output": cfg.Server.OutputDir,
	}).Infof("Starting %s server", version.String())

	sinks, closeSinks, err := app.EventSinks(cfg, version.Product+"-server", log)
	if err != nil {
		return err
	}
	defer closeSinks()

	var tui *ui.UI
	if *useTUI {
		tui = ui.New("speechlink-server "+version.Version, nil)
		sinks = append(sinks, tui.Sink())
	}

	opts := []server.Option{server.WithLogger(logrus.NewEntry(logger)), server.WithSink(sinks)}
	if cfg.Metrics.Enabled {
		opts = append(opts, server.WithMetrics(metrics.New(nil)))
	}

	srv := server.New(server.Config{
		Addr:           cfg.Server.Addr,
		Path:           cfg.Server.Path,
		Name:           cfg.Server.Name,
		OutputDir:      cfg.Server.OutputDir,
		AckInterval:    cfg.Server.AckInterval,
		Echo:           cfg.Server.Echo,
		Advertise:      cfg.Server.Advertise,
		DropAfter:      cfg.Server.DropAfter,
		SessionTimeout: cfg.Server.SessionTimeout,
	}, opts...)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		var quit <-chan struct{}
		if tui != nil {
			quit = tui.QuitRequested()
		}
		select {
		case sig := <-sigChan:
			log.Infof("Received %v signal, shutting down gracefully...", sig)
		case <-quit:
			log.Info("Quit requested from TUI")
		}
		srv.Stop()
	}()

	if tui == nil {
		return srv.Start()
	}

	result := make(chan error, 1)
	go func() {
		err := srv.Start()
		tui.Stop()
		result <- err
	}()
	if err := tui.Run(); err != nil {
		srv.Stop()
		<-result
		return fmt.Errorf("TUI failed: %w", err)
	}
	srv.Stop()
	return <-result
}
