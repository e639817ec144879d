// Command cyphaltx publishes a Cyphal subject on a CAN bus once every
// period until stopped, driven by a TOML config file and a couple of
// command line flags for quick testing against a virtual or SocketCAN
// interface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samsamfire/cyphalcan/pkg/can"
	_ "github.com/samsamfire/cyphalcan/pkg/can/socketcan"
	_ "github.com/samsamfire/cyphalcan/pkg/can/socketcanfd"
	_ "github.com/samsamfire/cyphalcan/pkg/can/virtual"
	"github.com/samsamfire/cyphalcan/pkg/config"
	"github.com/samsamfire/cyphalcan/pkg/identifier"
	"github.com/samsamfire/cyphalcan/pkg/metrics"
	"github.com/samsamfire/cyphalcan/pkg/transmitter"
)

func main() {
	configPath := flag.String("c", "", "path to a TOML config file; defaults baked in if omitted")
	subjectID := flag.Uint("subject", 1234, "subject id to publish on")
	period := flag.Duration("period", time.Second, "publish interval")
	metricsAddr := flag.String("metrics", "", "address to serve Prometheus metrics on, e.g. :9000 (disabled if empty)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cyphaltx: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	bus, err := can.NewBus(cfg.Bus.Interface, cfg.Bus.Channel)
	if err != nil {
		logger.Error("could not open bus", "interface", cfg.Bus.Interface, "channel", cfg.Bus.Channel, "error", err)
		os.Exit(1)
	}
	if err := bus.Connect(); err != nil {
		logger.Error("could not connect bus", "error", err)
		os.Exit(1)
	}
	defer bus.Disconnect()

	var collector *metrics.Collector
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		collector = metrics.NewCollector(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			logger.Info("serving metrics", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	} else {
		collector = metrics.NoOp()
	}

	controller := can.NewAsyncController(bus)
	var instance transmitter.Instance
	err = instance.Init(controller, cfg.Node.ID,
		transmitter.WithFD(cfg.Bus.FD),
		transmitter.WithLogger(logger),
		transmitter.WithMetrics(collector),
	)
	if err != nil {
		logger.Error("could not initialize transmitter", "error", err)
		os.Exit(1)
	}
	defer instance.Close()

	var handle transmitter.Transfer
	if err := handle.Init(&instance); err != nil {
		logger.Error("could not initialize transfer handle", "error", err)
		os.Exit(1)
	}

	logger.Info("publishing", "node_id", cfg.Node.ID, "subject_id", *subjectID, "fd", cfg.Bus.FD, "period", *period)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var counter byte
	ticker := time.NewTicker(*period)
	defer ticker.Stop()
	for range ticker.C {
		payload := []byte{counter}
		counter++
		deadline := time.Now().Add(*period)
		err := handle.PublishWait(ctx, identifier.Nominal, uint16(*subjectID), payload, deadline)
		if err != nil {
			logger.Warn("publish failed", "error", err)
			continue
		}
		logger.Debug("published", "payload", payload)
	}
}

func newLogger(cfg config.Log) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
