// Command ingestserver runs the self-hosted, multi-tenant deployment: one
// process accepting ingest connections for every registered user, billing
// against their Postgres balance, packaging to local HLS, publishing to
// relays/mirrors, and serving viewers straight off the egress directory
// tree through the playlist gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/bitriver/livepipe/pkg/blossom"
	"github.com/bitriver/livepipe/pkg/cache"
	"github.com/bitriver/livepipe/pkg/config"
	"github.com/bitriver/livepipe/pkg/egress/hls"
	"github.com/bitriver/livepipe/pkg/gateway"
	"github.com/bitriver/livepipe/pkg/ingest"
	"github.com/bitriver/livepipe/pkg/logger"
	"github.com/bitriver/livepipe/pkg/metrics"
	"github.com/bitriver/livepipe/pkg/nostr"
	"github.com/bitriver/livepipe/pkg/overseer"
	"github.com/bitriver/livepipe/pkg/pipeline"
	"github.com/bitriver/livepipe/pkg/security"
	"github.com/bitriver/livepipe/pkg/streammanager"
	"github.com/bitriver/livepipe/pkg/types"
	"github.com/bitriver/livepipe/pkg/viewer"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	configFile := flag.String("config", "config.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ingestserver %s (commit: %s)\n", version, commit)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingestserver: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logLevel := logger.ParseLevel(cfg.Logging.Level)
	log := logger.NewDefaultLogger(logLevel, cfg.Logging.Format)

	if err := run(cfg, log); err != nil {
		log.Error("ingestserver: fatal error", logger.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	privKey, err := nostr.ParsePrivateKey(cfg.Nostr.Nsec)
	if err != nil {
		return fmt.Errorf("ingestserver: %w", err)
	}
	signer, err := nostr.NewSigner(privKey)
	if err != nil {
		return fmt.Errorf("ingestserver: %w", err)
	}

	reg, err := metrics.InitGlobal()
	if err != nil {
		return fmt.Errorf("ingestserver: %w", err)
	}

	publisher := nostr.NewPublisher(signer, cfg.Nostr.Relays, cfg.Nostr.RelayPublishTimeout, log)
	defer publisher.Close()

	blobPublisher := blossom.New(signer, cfg.Nostr.Blossom, cfg.Nostr.MaxBlossomServers, cfg.Nostr.UploadTimeout, log)
	egressWriter := hls.New(cfg.Storage.BasePath, cfg.HLS.PlaylistSize, log)

	var ov *overseer.SelfHosted
	manager := streammanager.New(log, func(streamID string) {
		if ov == nil {
			return
		}
		if err := ov.OnEnd(ctx, streamID); err != nil {
			log.Warn("ingestserver: failed to end stale stream", logger.String("stream_id", streamID), logger.Err(err))
		}
	})
	defer manager.Close()

	ov, err = overseer.NewSelfHosted(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, publisher, blobPublisher, manager, cfg.Billing.DefaultRateMsatsPerMin, cfg.Billing.GracePeriod, log)
	if err != nil {
		return fmt.Errorf("ingestserver: %w", err)
	}
	defer ov.Close()

	viewerTracker := viewer.New(log)
	defer viewerTracker.Close()

	if cfg.Redis.Enabled {
		redisClient := goredis.NewClient(&goredis.Options{
			Addr:       cfg.Redis.Address,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		redisCache := cache.NewRedisCache(redisClient, "viewers:", cfg.Redis.TTL)
		viewerTracker.EnableRemoteCount(redisCache, uuid.NewString())

		go func() {
			ticker := time.NewTicker(viewer.RemoteCountTTL / 3)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					viewerTracker.RefreshRemote(ctx)
				}
			}
		}()
	}

	var listeners []ingest.Listener
	for _, l := range cfg.Ingest.Listen {
		listener, err := ingest.NewFromURL(l, log)
		if err != nil {
			return fmt.Errorf("ingestserver: %w", err)
		}
		listeners = append(listeners, listener)
	}

	runnerCfg := pipeline.Config{SegmentLength: cfg.HLS.SegmentDuration, ThumbnailInterval: cfg.HLS.ThumbnailInterval, RecordingDir: cfg.HLS.RecordingDir}

	ingestCaps, err := config.ParseCapabilities(cfg.Ingest.Capabilities)
	if err != nil {
		return fmt.Errorf("ingestserver: %w", err)
	}

	starter := func(ctx context.Context, sess *ingest.Session, streamID, userID string, ownerPubkey [32]byte, capabilities []types.EndpointCapability) {
		if len(capabilities) == 0 {
			capabilities = ingestCaps
		}
		decision := overseer.StartDecision{StreamID: streamID, UserID: userID, OwnerPubkey: ownerPubkey, Capabilities: capabilities}
		runner := pipeline.New(sess, streamID, userID, ownerPubkey, decision, ov, egressWriter, reg, log, runnerCfg)
		manager.TrackStart(streamID, time.Now())
		go func() {
			if err := runner.Run(ctx); err != nil {
				log.Warn("ingestserver: pipeline runner exited with error", logger.String("stream_id", streamID), logger.Err(err))
			}
			manager.Untrack(streamID)
		}()
	}

	for _, l := range listeners {
		l := l
		go func() {
			if err := l.Listen(ctx, ov, starter); err != nil {
				log.Error("ingestserver: listener exited", logger.String("protocol", string(l.Protocol())), logger.Err(err))
			}
		}()
	}

	go func() {
		checkTicker := time.NewTicker(15 * time.Second)
		defer checkTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-checkTicker.C:
				if err := ov.CheckStreams(ctx); err != nil {
					log.Warn("ingestserver: CheckStreams failed", logger.Err(err))
				}
			}
		}
	}()

	gw := gateway.New(cfg.Storage.BasePath, viewerTracker, log)
	mux := http.NewServeMux()
	mux.Handle("/", gw.Mux())
	mux.Handle("/metrics", reg.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	useTLS := cfg.Server.TLSCertFile != "" && cfg.Server.TLSKeyFile != ""
	if useTLS {
		tlsCfg := security.DefaultTLSConfig()
		tlsCfg.CertFile = cfg.Server.TLSCertFile
		tlsCfg.KeyFile = cfg.Server.TLSKeyFile
		certMgr, err := security.NewCertificateManager(tlsCfg)
		if err != nil {
			return fmt.Errorf("ingestserver: load TLS certificate: %w", err)
		}
		certMgr.EnableAutoRenew(30*24*time.Hour, nil, func(err error) {
			log.Error("ingestserver: certificate renewal failed", logger.Err(err))
		})
		defer certMgr.DisableAutoRenew()
		srv.TLSConfig = certMgr.GetTLSConfig()
	}

	go func() {
		log.Info("ingestserver: gateway listening", logger.String("addr", addr), logger.Bool("tls", useTLS))
		var err error
		if useTLS {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Error("ingestserver: gateway server error", logger.Err(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	log.Info("ingestserver started", logger.Int("listeners", len(listeners)))
	<-sigCh
	log.Info("ingestserver: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Ingest.ShutdownWindow)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	cancel()
	for _, l := range listeners {
		_ = l.Close()
	}
	return nil
}
