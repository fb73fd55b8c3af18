// Package main implements the radio control container entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/radio-control/controlplane/internal/adapter"
	"github.com/radio-control/controlplane/internal/adapter/fake"
	"github.com/radio-control/controlplane/internal/adapter/silvusmock"
	"github.com/radio-control/controlplane/internal/api"
	"github.com/radio-control/controlplane/internal/audit"
	"github.com/radio-control/controlplane/internal/auth"
	"github.com/radio-control/controlplane/internal/command"
	"github.com/radio-control/controlplane/internal/config"
	"github.com/radio-control/controlplane/internal/logging"
	"github.com/radio-control/controlplane/internal/radio"
	"github.com/radio-control/controlplane/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (default $"+config.EnvConfigPath+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rcc: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rcc: failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("rcc exited with error", logging.Fields{"error": err})
		log.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	log.Info("starting radio control container", logging.Fields{"version": api.Version, "addr": cfg.Server.Addr})

	sinks, querier, closeAudit, err := openAudit(cfg.Audit, log)
	if err != nil {
		return err
	}
	defer closeAudit()

	manager := radio.NewManager(&cfg.Timing, cfg.BandPlan)
	hub := telemetry.NewHub(&cfg.Timing, telemetry.WithLogger(log), telemetry.WithSnapshot(manager.Snapshot))
	defer hub.Stop()

	for _, rc := range cfg.Radios {
		a, err := newAdapter(rc)
		if err != nil {
			return err
		}
		info := radio.Info{ID: rc.ID, Model: rc.Model, Band: rc.Band, Channels: channels(rc.Channels)}
		if err := manager.LoadCapabilities(ctx, info, a); err != nil {
			// the prober brings it online once it answers
			log.Warn("radio registered offline", logging.Fields{"radioId": rc.ID, "error": err})
		}
	}

	orchestrator, err := command.NewOrchestrator(manager, &cfg.Timing,
		command.WithPublisher(hub),
		command.WithAudit(audit.Multi(sinks...)),
		command.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	opts := []api.Option{api.WithLogger(log)}
	if querier != nil {
		opts = append(opts, api.WithAuditQuerier(querier))
	}
	if cfg.Auth.Enabled {
		verifier, err := auth.NewVerifier(cfg.Auth)
		if err != nil {
			return fmt.Errorf("failed to create token verifier: %w", err)
		}
		opts = append(opts, api.WithAuth(auth.NewMiddleware(verifier, api.WriteError)))
	} else {
		log.Warn("authentication disabled; every route is open")
	}
	server := api.NewServer(cfg.Server, hub, orchestrator, manager, opts...)

	probeCtx, cancelProbe := context.WithCancel(ctx)
	defer cancelProbe()
	go radio.NewProber(manager, &cfg.Timing, hub, log).Run(probeCtx)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	cancelProbe()
	// ends open streams so Shutdown does not wait on them
	hub.Stop()
	if err := server.Stop(context.Background()); err != nil {
		log.Error("failed to stop HTTP server", logging.Fields{"error": err})
	}
	log.Info("radio control container stopped")
	return nil
}

// openAudit opens the configured sinks. The SQLite store doubles as the
// query backend for GET /audit.
func openAudit(cfg config.AuditConfig, log *logging.Logger) ([]audit.Logger, audit.Querier, func(), error) {
	var (
		sinks   []audit.Logger
		querier audit.Querier
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warn("failed to close audit sink", logging.Fields{"error": err})
			}
		}
	}

	if cfg.File != "" {
		fl, err := audit.NewFileLogger(cfg, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		sinks = append(sinks, fl)
		closers = append(closers, fl.Close)
	}
	if cfg.SQLitePath != "" {
		store, err := audit.NewSQLiteStore(cfg.SQLitePath, log)
		if err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		sinks = append(sinks, store)
		querier = store
		closers = append(closers, store.Close)
	}
	return sinks, querier, closeAll, nil
}

func newAdapter(rc config.RadioConfig) (adapter.IRadioAdapter, error) {
	switch rc.Adapter {
	case config.AdapterFake:
		var opts []fake.Option
		if len(rc.Channels) > 0 {
			opts = append(opts, fake.WithChannels(channels(rc.Channels)))
		}
		return fake.New(rc.ID, opts...), nil
	case config.AdapterSilvusMock, "":
		var opts []silvusmock.Option
		if rc.Model != "" {
			opts = append(opts, silvusmock.WithModel(rc.Model))
		}
		return silvusmock.New(rc.ID, channels(rc.Channels), opts...), nil
	default:
		return nil, fmt.Errorf("radio %s: unknown adapter %q", rc.ID, rc.Adapter)
	}
}

func channels(in []config.Channel) []adapter.Channel {
	if len(in) == 0 {
		return nil
	}
	out := make([]adapter.Channel, len(in))
	for i, ch := range in {
		out[i] = adapter.Channel{Index: ch.Index, FrequencyMhz: ch.FrequencyMhz}
	}
	return out
}
