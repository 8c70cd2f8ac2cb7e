package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcelsud/webhook-outbox/balancer"
	"github.com/marcelsud/webhook-outbox/config"
	"github.com/marcelsud/webhook-outbox/endpoints"
	"github.com/marcelsud/webhook-outbox/engine"
	"github.com/marcelsud/webhook-outbox/internal/http/chi"
	"github.com/marcelsud/webhook-outbox/metrics"
	"github.com/marcelsud/webhook-outbox/pipeline"
	"github.com/marcelsud/webhook-outbox/webhook"
	"github.com/marcelsud/webhook-outbox/webhook/cryptostore"
	"github.com/marcelsud/webhook-outbox/webhook/dispatcher"
	"github.com/marcelsud/webhook-outbox/webhook/memory"
	"github.com/marcelsud/webhook-outbox/webhook/redis"
	"github.com/marcelsud/webhook-outbox/webhook/validator"
	"github.com/rs/zerolog"
)

const TIMEOUT = 30 * time.Second

/*
 * main wires the stores, the delivery components and the HTTP API.
 * Imports only go downward: the app imports the engine, which imports the
 * delivery components, which import the storage layer.
 */

// stores are the persistence adapters selected by STORE
type stores struct {
	endpoints  webhook.EndpointStore
	deliveries webhook.DeliveryStore
	snapshots  *redis.SnapshotStore
	close      func(ctx context.Context) error
}

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		return
	}
	logger := chi.NewLogger("webhook-outbox", cfg.LogLevel, cfg.LogJSON)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	s, err := openStores(cfg, logger)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer func() {
		if err := s.close(context.Background()); err != nil {
			logger.Error().Err(err).Msg("closing stores")
		}
	}()

	exporter, err := metrics.NewOTelExporter()
	if err != nil {
		fmt.Println(err)
		return
	}
	defer exporter.Shutdown(context.Background())

	// one counting store so inline and pipelined deliveries are both counted
	deliveries := engine.NewCountingStore(s.deliveries)
	disp := dispatcher.New(cfg.GetDispatcherConfig(),
		dispatcher.WithMetrics(exporter.Recorder()),
		dispatcher.WithLogger(logger),
	)

	opts := []engine.Option{engine.WithDispatcher(disp), engine.WithLogger(logger)}
	var pipe *pipeline.Pipeline
	if cfg.PipelineEnabled {
		popts := []pipeline.Option{pipeline.WithRecorder(deliveries), pipeline.WithLogger(logger)}
		if s.snapshots != nil {
			popts = append(popts, pipeline.WithSnapshotStore(s.snapshots), pipeline.WithEndpointResolver(s.endpoints.Get))
		}
		pipe = pipeline.New(cfg.GetPipelineConfig(), disp, popts...)
		opts = append(opts, engine.WithScheduler(pipe), engine.WithBalancer(pipe.Balancer()))
	} else {
		opts = append(opts, engine.WithBalancer(balancer.New(cfg.GetPipelineConfig().Balancer, balancer.WithLogger(logger))))
	}
	eng := engine.New(cfg.GetEngineConfig(), s.endpoints, deliveries, opts...)

	collectorOpts := []metrics.CollectorOption{metrics.WithDeliveries(deliveries)}
	if pipe != nil {
		collectorOpts = append(collectorOpts, metrics.WithPipeline(pipe))
	}
	if err := exporter.Observe(metrics.NewCollector(eng, collectorOpts...)); err != nil {
		fmt.Println(err)
		return
	}

	if cfg.EndpointsFile != "" {
		loader := endpoints.NewLoader(validator.New(validator.Config{AllowPrivateHosts: cfg.AllowPrivateHosts}))
		if err := loader.Load(cfg.EndpointsFile); err != nil {
			fmt.Println(err)
			return
		}
		added, err := loader.Register(ctx, eng)
		if err != nil {
			fmt.Println(err)
			return
		}
		logger.Info().Int("loaded", len(loader.List())).Int("added", added).Str("file", cfg.EndpointsFile).Msg("endpoints bootstrapped")
	}

	if err := eng.Start(ctx); err != nil {
		fmt.Println(err)
		return
	}

	r := chi.WebhookHandlers(ctx, eng, logger, exporter.ServeHTTP())
	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		Addr:         ":" + cfg.Port,
		Handler:      r,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, eng, ctx, errShutdown)
	logger.Info().Str("port", cfg.Port).Str("store", cfg.Store).Bool("pipeline", cfg.PipelineEnabled).Msg("listening")
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		fmt.Println(err)
		return
	}
	err = <-errShutdown
	if err != nil {
		fmt.Println(err)
		return
	}
}

func openStores(cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	s := &stores{close: func(context.Context) error { return nil }}

	switch cfg.Store {
	case config.StoreRedis:
		var opts []redis.Option
		if cfg.DeliveryTTL > 0 {
			opts = append(opts, redis.WithDeliveryTTL(cfg.DeliveryTTL))
		}
		repo, err := redis.NewRepository(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, opts...)
		if err != nil {
			return nil, err
		}
		s.endpoints = repo.Endpoints()
		s.deliveries = repo.Deliveries()
		s.snapshots = repo.Snapshots()
		s.close = repo.Close
	default:
		s.endpoints = memory.NewEndpointStore()
		s.deliveries = memory.NewDeliveryStore(0)
	}

	if cfg.FieldCryptoKey == "" {
		return s, nil
	}
	aead, err := cryptostore.NewAESGCMFromBase64(cfg.FieldCryptoKey)
	if err != nil {
		return nil, fmt.Errorf("FIELD_CRYPTO_KEY: %w", err)
	}
	codec, err := cryptostore.New(cryptostore.Config{
		Encrypt:              aead.Encrypt,
		Decrypt:              aead.Decrypt,
		Tenant:               cfg.CryptoTenant,
		Policy:               cryptostore.NewPolicy(cfg.CryptoPolicy),
		AllowUnsafePlaintext: cfg.CryptoAllowUnsafe,
		Logger:               logger,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring field encryption: %w", err)
	}
	s.endpoints = codec.Endpoints(s.endpoints)
	s.deliveries = codec.Deliveries(s.deliveries)
	return s, nil
}

func shutdown(server *http.Server, eng *engine.Engine, ctxShutdown context.Context, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), TIMEOUT)
	defer stop()

	err := server.Shutdown(ctxTimeout)
	// flush buffered events and drain the pipeline after the API stops accepting them
	engErr := eng.Shutdown(ctxTimeout)
	switch {
	case err == nil && engErr == nil:
		fmt.Printf("\nShutting down server...\n")
		errShutdown <- nil
	case errors.Is(err, context.DeadlineExceeded):
		errShutdown <- fmt.Errorf("Forcing closing the server")
	default:
		errShutdown <- fmt.Errorf("Forcing closing the server: %w", errors.Join(err, engErr))
	}
}
