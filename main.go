package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maxpert/waljson/admin"
	"github.com/maxpert/waljson/capture"
	"github.com/maxpert/waljson/catalog"
	"github.com/maxpert/waljson/cfg"
	"github.com/maxpert/waljson/encoder"
	"github.com/maxpert/waljson/pgsource"
	"github.com/maxpert/waljson/publisher"
	_ "github.com/maxpert/waljson/publisher/sink"
	"github.com/maxpert/waljson/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging. Encoded output may go to stdout, so logs go to stderr.
	var writer io.Writer = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = os.Stderr
	})
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stderr
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("waljson stopped")
	}
	log.Info().Msg("waljson stopped")
}

func run(ctx context.Context) error {
	opts, err := cfg.Config.EncoderOptions()
	if err != nil {
		return err
	}

	replay := *cfg.ReplayFlag

	// Type names for columns the builtin map does not know come from the
	// catalog connection. A replay has no server to ask.
	var lookup catalog.LookupFunc
	if replay == "" {
		catalogDSN := cfg.Config.Source.CatalogDSN
		if catalogDSN == "" {
			catalogDSN = cfg.Config.Source.DSN
		}
		typeCatalog, err := pgsource.ConnectCatalog(ctx, catalogDSN)
		if err != nil {
			return err
		}
		defer typeCatalog.Close()
		lookup = typeCatalog.Lookup
	}

	types, err := catalog.NewResolver(cfg.Config.Source.TypeCacheSize, lookup)
	if err != nil {
		return err
	}

	worker, err := publisher.NewWorkerFromConfig(cfg.Config.Sink)
	if err != nil {
		return err
	}
	defer worker.Close()

	session, err := encoder.New(opts, types, worker)
	if err != nil {
		return fmt.Errorf("failed to start encoder session: %w", err)
	}

	collector := telemetry.NewMetricsCollector(session, 5*time.Second)
	collector.Start()
	defer collector.Stop()

	var handler capture.Handler = session
	if cfg.Config.Capture.Path != "" {
		recorder, err := capture.Create(cfg.Config.Capture.Path, cfg.Config.Capture.Compress)
		if err != nil {
			return err
		}
		defer func() {
			if err := recorder.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close capture file")
			}
			log.Info().Uint64("events", recorder.Events()).Str("path", cfg.Config.Capture.Path).Msg("Capture file closed")
		}()
		handler = capture.Tee(session, recorder)
	}

	var replicator *pgsource.Replicator
	if replay == "" {
		replicator, err = pgsource.NewReplicator(pgsource.ConfigFromSource(cfg.Config.Source), handler, types)
		if err != nil {
			return err
		}
	}

	if cfg.Config.Admin.Enabled {
		var source admin.SourceStatus
		if replicator != nil {
			source = replicator
		}
		router := admin.NewRouter(admin.NewAdminHandlers(session, worker, source), cfg.Config.Admin.Secret)
		srv, err := admin.Start(cfg.Config.Admin.Address, cfg.Config.Admin.Port, router)
		if err != nil {
			return err
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			if err := srv.Stop(stopCtx); err != nil {
				log.Warn().Err(err).Msg("Failed to stop admin server")
			}
		}()
	}

	// A blocked publish retries until the worker is stopped
	go func() {
		<-ctx.Done()
		worker.Stop()
	}()

	if replay != "" {
		log.Info().Str("path", replay).Msg("Replaying capture file")
		n, err := capture.ReplayFile(replay, handler)
		if cerr := session.Close(); err == nil {
			err = cerr
		}
		log.Info().Uint64("events", n).Interface("stats", session.Stats()).Msg("Replay finished")
		return err
	}

	err = replicator.Start(ctx)
	if cerr := session.Close(); cerr != nil {
		log.Warn().Err(cerr).Msg("Failed to close encoder session")
	}
	log.Info().
		Str("confirmed_lsn", replicator.ConfirmedLSN().String()).
		Interface("stats", session.Stats()).
		Msg("Replication finished")
	return err
}
