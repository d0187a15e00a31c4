package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shopwise/listsync/admin"
	"github.com/shopwise/listsync/cfg"
	"github.com/shopwise/listsync/collab"
	"github.com/shopwise/listsync/feed"
	"github.com/shopwise/listsync/notify"
	_ "github.com/shopwise/listsync/notify/sink"
	"github.com/shopwise/listsync/permission"
	"github.com/shopwise/listsync/store"
	"github.com/shopwise/listsync/subscription"
	"github.com/shopwise/listsync/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// transport is a feed transport the process owns
type transport interface {
	feed.Transport
	io.Closer
}

func main() {
	flag.Parse()

	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("device_id", cfg.Config.Session.DeviceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("ShopWise listsync - realtime list collaboration")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("transport", cfg.Config.Feed.Transport).Msg("Connecting change feed")
	tr, err := openTransport()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open change feed transport")
		return
	}
	defer tr.Close()

	prefs, err := permission.OpenPebbleStore(filepath.Join(cfg.Config.DataDir, "preferences"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open preference store")
		return
	}
	defer prefs.Close()

	initial, err := permission.ParseStatus(cfg.Config.Permission.Initial)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid initial permission")
		return
	}
	platform := permission.NewHeadlessPlatform(initial)
	gate, err := permission.NewGate(platform, prefs)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize permission gate")
		return
	}

	dispatcher, err := newDispatcher(gate)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize notification dispatcher")
		return
	}
	defer dispatcher.Close()

	reconciler, err := store.OpenSQLStore(cfg.Config.Reconcile.Driver, cfg.Config.Reconcile.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open list item store")
		return
	}
	defer reconciler.Close()

	manager := subscription.NewManager(tr)
	defer manager.Close()

	session, err := collab.NewSession(collab.Config{
		UserID:         cfg.Config.Session.UserID,
		Foreground:     cfg.Config.Session.Foreground,
		MemberLists:    cfg.Config.Session.MemberLists,
		RefetchTimeout: time.Duration(cfg.Config.Reconcile.TimeoutMS) * time.Millisecond,
		Debounce:       time.Duration(cfg.Config.Reconcile.DebounceMS) * time.Millisecond,
	}, manager, dispatcher, reconciler)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create session")
		return
	}
	defer session.Close()

	if err := session.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start session")
		return
	}

	collector := telemetry.NewMetricsCollector(dispatcher, 15*time.Second)
	collector.Start()
	defer collector.Stop()

	if cfg.Config.Admin.Enabled {
		server := startAdmin(ctx, session, manager, gate, platform)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Admin server shutdown failed")
			}
		}()
	}

	if gate.ShouldPrompt() {
		log.Info().Msg("Notification permission not yet requested")
	}

	log.Info().
		Str("user_id", cfg.Config.Session.UserID).
		Str("data_dir", cfg.Config.DataDir).
		Str("permission", string(gate.Status())).
		Msg("Listsync is operational")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
}

func openTransport() (transport, error) {
	switch cfg.Config.Feed.Transport {
	case cfg.TransportNATS:
		return feed.NewNATSTransport(feed.NATSConfig{
			URL:               cfg.Config.Feed.NatsURL,
			SubjectPrefix:     cfg.Config.Feed.SubjectPrefix,
			CompressThreshold: cfg.Config.Feed.CompressThreshold,
			ClientName:        "listsync-" + cfg.Config.Session.DeviceID,
		})
	default:
		return feed.NewHub(cfg.Config.Feed.BufferSize), nil
	}
}

func newDispatcher(gate notify.Gate) (*notify.Dispatcher, error) {
	sinkCfg := cfg.Config.Notifications
	sinkCfg.NatsURL = cfg.NotificationNatsURL()

	snk, err := notify.NewSink(sinkCfg, cfg.Config.Session.DeviceID)
	if err != nil {
		return nil, err
	}

	d, err := notify.NewDispatcher(notify.DispatcherConfig{
		Gate:     gate,
		Sink:     snk,
		DedupTTL: time.Duration(sinkCfg.DedupTTLMS) * time.Millisecond,
		DedupMax: sinkCfg.DedupSize,
	})
	if err != nil {
		snk.Close()
		return nil, err
	}
	return d, nil
}

func startAdmin(ctx context.Context, session *collab.Session, manager *subscription.Manager, gate *permission.Gate, platform *permission.HeadlessPlatform) *http.Server {
	mux := http.NewServeMux()
	admin.RegisterRoutes(mux, admin.NewAdminHandlers(ctx, session, manager, gate, platform))

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Config.Admin.Address, cfg.Config.Admin.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("address", server.Addr).Msg("Admin server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin server failed")
		}
	}()

	return server
}
