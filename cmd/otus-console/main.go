// Package main implements the entry point for the otus console, the web
// mediator between browser clients and the otus packet-capture node fleet.
// The console publishes commands to the fleet over the broker, correlates
// their responses, and buffers and streams the packets the nodes capture.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/firestige/Otus/component"
	"github.com/firestige/Otus/config"
	"github.com/firestige/Otus/consumer"
	"github.com/firestige/Otus/correlator"
	"github.com/firestige/Otus/dispatch"
	"github.com/firestige/Otus/errors"
	"github.com/firestige/Otus/gateway"
	"github.com/firestige/Otus/ingest"
	"github.com/firestige/Otus/kafkaclient"
	"github.com/firestige/Otus/message"
	"github.com/firestige/Otus/metric"
	"github.com/firestige/Otus/streamhub"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "otus-console"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.HTTPAddr != "" {
		cfg.HTTP.Addr = cliCfg.HTTPAddr
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	// Instance identity distinguishes console replicas: it names this
	// process to the broker and gives the response subscription its own
	// group, so every replica sees every response.
	instanceID := newInstanceID()

	slog.Info("Starting otus console",
		"version", Version,
		"build_time", BuildTime,
		"instance_id", instanceID,
		"brokers", cfg.Brokers,
		"channels", cfg.Channels())

	registry := metric.NewRegistry()
	metrics := registry.CoreMetrics()

	kafkaClient, err := kafkaclient.NewClient(cfg.Brokers,
		kafkaclient.WithLogger(logger.With("component", "kafka")),
		kafkaclient.WithClientID(instanceID),
		// The dispatcher retries publishes itself; keep the producer to
		// one attempt so the budgets do not multiply.
		kafkaclient.WithMaxAttempts(1),
	)
	if err != nil {
		return fmt.Errorf("create kafka client: %w", err)
	}
	defer kafkaClient.Close(context.Background())

	// Fanout hubs for the live push streams
	packetHub := streamhub.New(cfg.Buffers.PacketSubscriber,
		streamhub.WithMetrics[message.PacketRecord](registry, "packets"))
	responseHub := streamhub.New(cfg.Buffers.ResponseSubscriber,
		streamhub.WithMetrics[message.ResponseEnvelope](registry, "responses"))

	ing, err := ingest.New(ingest.Deps{
		Channels:        cfg.Channels(),
		HistoryCapacity: cfg.Buffers.HistoryCapacity,
		SnapshotLimit:   cfg.Buffers.SnapshotLimit,
		Hub:             packetHub,
		Registry:        registry,
		Logger:          logger.With("component", "ingest"),
	})
	if err != nil {
		return fmt.Errorf("create ingest: %w", err)
	}
	defer ing.Close()

	corr := correlator.New(correlator.Deps{
		Hub:     responseHub,
		Metrics: metrics,
		Logger:  logger.With("component", "correlator"),
	})

	dispatcher, err := dispatch.New(dispatch.Deps{
		Topics:       cfg.Topics.Commands,
		Publisher:    kafkaClient,
		Correlator:   corr,
		ResponseWait: cfg.Timeouts.ResponseWait,
		RetryConfig:  errors.DefaultRetryConfig().ToRetryConfig(),
		Metrics:      metrics,
		Logger:       logger.With("component", "dispatch"),
	})
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	supervisors := buildSupervisors(cfg, instanceID, kafkaClient, ing, corr, metrics, logger)

	discoverables := make([]component.Discoverable, 0, len(supervisors))
	for _, s := range supervisors {
		discoverables = append(discoverables, s)
	}

	server, err := gateway.NewServer(gateway.Deps{
		Addr:        cfg.HTTP.Addr,
		InstanceID:  instanceID,
		Brokers:     cfg.Brokers,
		DataTopics:  cfg.Topics.Data,
		Dispatcher:  dispatcher,
		Ingest:      ing,
		PacketHub:   packetHub,
		ResponseHub: responseHub,
		Registry:    registry,
		Components:  discoverables,
		Heartbeat:   cfg.Timeouts.StreamHeartbeat,
		Logger:      logger.With("component", "gateway"),
	})
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	components := make([]component.LifecycleComponent, 0, len(supervisors)+1)
	for _, s := range supervisors {
		components = append(components, s)
	}
	components = append(components, server)

	return runWithSignalHandling(components, cfg.Timeouts.Shutdown)
}

// newInstanceID builds the per-process identity, "webcli-" plus 8 hex chars.
func newInstanceID() string {
	u := uuid.New()
	return fmt.Sprintf("webcli-%x", u[:4])
}

// buildSupervisors creates one consume loop per channel data topic plus one
// for the shared response topic.
//
// Data loops use a per-channel group id shared across replicas; the broker
// balances partitions among them. The response loop uses the instance id as
// its group, so each replica consumes the full response topic - any replica
// may hold the waiter for any request.
func buildSupervisors(
	cfg *config.Config,
	instanceID string,
	kafkaClient *kafkaclient.Client,
	ing *ingest.Ingest,
	corr *correlator.Correlator,
	metrics *metric.Metrics,
	logger *slog.Logger,
) []*consumer.Supervisor {
	var supervisors []*consumer.Supervisor

	for _, channel := range cfg.Channels() {
		topic := cfg.Topics.Data[channel]
		groupID := "console-" + channel
		supervisors = append(supervisors, consumer.NewSupervisor(consumer.SupervisorDeps{
			Name:         "consumer-" + channel,
			Subscription: channel + "-data",
			Factory: func() consumer.Fetcher {
				return kafkaClient.NewReader(topic, groupID)
			},
			Handler:          ing.HandlerFor(channel),
			ReconnectBackoff: cfg.Timeouts.ReconnectBackoff,
			Metrics:          metrics,
			Logger:           logger.With("component", "consumer", "subscription", channel+"-data"),
		}))
	}

	supervisors = append(supervisors, consumer.NewSupervisor(consumer.SupervisorDeps{
		Name:         "consumer-responses",
		Subscription: "responses",
		Factory: func() consumer.Fetcher {
			return kafkaClient.NewReader(cfg.Topics.Responses, instanceID)
		},
		Handler:          corr.HandleMessage,
		ReconnectBackoff: cfg.Timeouts.ReconnectBackoff,
		Metrics:          metrics,
		Logger:           logger.With("component", "consumer", "subscription", "responses"),
	}))

	return supervisors
}

// runWithSignalHandling starts all components and stops them in reverse
// order on SIGINT/SIGTERM.
func runWithSignalHandling(components []component.LifecycleComponent, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	for _, c := range components {
		if err := c.Initialize(); err != nil {
			return fmt.Errorf("initialize %s: %w", c.Meta().Name, err)
		}
	}
	for i, c := range components {
		if err := c.Start(signalCtx); err != nil {
			stopComponents(components[:i], shutdownTimeout)
			return fmt.Errorf("start %s: %w", c.Meta().Name, err)
		}
		slog.Info("Component started", "name", c.Meta().Name)
	}

	slog.Info("Console started")
	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	stopComponents(components, shutdownTimeout)
	slog.Info("Console shutdown complete")
	return nil
}

// stopComponents stops components in reverse start order
func stopComponents(components []component.LifecycleComponent, timeout time.Duration) {
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		if err := c.Stop(timeout); err != nil {
			slog.Warn("Component stop failed", "name", c.Meta().Name, "error", err)
		}
	}
}
