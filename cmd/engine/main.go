package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"kataigo/internal/adapters"
	"kataigo/internal/bootstrap"
	analysisDelivery "kataigo/internal/delivery/analysis"
	"kataigo/internal/evaluator"
	"kataigo/internal/gtp"
	"kataigo/internal/repository"
	"kataigo/internal/search"
)

func main() {
	cfgPath := flag.String("config", ".env", "path to the configuration file")
	flag.Parse()

	logger := NewLogger()
	defer logger.Sync()

	cfg, err := bootstrap.Setup(*cfgPath)
	if err != nil {
		logger.Errorw("failed to setup configuration", "error", err)
		return
	}
	if cfg.KatagoCommand == "" {
		logger.Error("KATAGO_COMMAND is not set")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleShutdown(cancel, logger)

	transport, err := evaluator.NewProcessTransport(strings.Fields(cfg.KatagoCommand))
	if err != nil {
		logger.Errorw("failed to start scorer process", "error", err)
		return
	}
	evalClient := evaluator.NewClient(transport,
		time.Duration(cfg.EvalDeadlineMs)*time.Millisecond, logger)
	defer evalClient.Close()
	evalClient.SetRules(cfg.Rules)

	sched := search.NewScheduler(search.Config{
		CPuct:           cfg.CPuct,
		MaxInFlight:     cfg.MaxInFlight,
		ResignThreshold: cfg.ResignThreshold,
		ResignMinVisits: cfg.ResignMinVisits,
	}, evalClient, logger)

	store := initGameStore(ctx, cfg, logger)

	var observer func(search.Snapshot)
	if cfg.AnalysisAddr != "" {
		hub := analysisDelivery.NewHub(logger)
		go hub.Run(ctx)
		go func() {
			if err := hub.Serve(ctx, cfg.AnalysisAddr); err != nil {
				logger.Errorw("analysis server stopped", "error", err)
			}
		}()
		observer = hub.Publish
	}

	session, err := gtp.NewSession(gtp.Options{
		Name:           cfg.EngineName,
		Version:        cfg.EngineVersion,
		BoardSize:      cfg.BoardSize,
		Komi:           cfg.Komi,
		GenmoveSeconds: cfg.GenmoveSeconds,
		Store:          store,
		Observer:       observer,
	}, sched, evalClient, os.Stdout, logger)
	if err != nil {
		logger.Errorw("failed to create GTP session", "error", err)
		return
	}

	logger.Info("GTP ready")
	if err := session.Run(ctx, os.Stdin); err != nil {
		logger.Errorw("GTP session ended with error", "error", err)
	}
}

func NewLogger() *zap.SugaredLogger {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	return logger.Sugar()
}

// initGameStore wires up persistence only for the backends the config names.
func initGameStore(ctx context.Context, cfg *bootstrap.Config, logger *zap.SugaredLogger) gtp.GameStore {
	var redisAdapter *adapters.AdapterRedis
	var mongoAdapter *adapters.AdapterMongo

	if cfg.RedisUrl != "" {
		redisAdapter = adapters.NewAdapterRedis(cfg)
		if err := redisAdapter.Init(ctx); err != nil {
			logger.Warnw("redis unavailable, live game record disabled", "error", err)
			redisAdapter = nil
		}
	}
	if cfg.MongoUri != "" {
		mongoAdapter = adapters.NewAdapterMongo(cfg)
		if err := mongoAdapter.Init(ctx); err != nil {
			logger.Warnw("mongo unavailable, game archive disabled", "error", err)
			mongoAdapter = nil
		}
	}
	if redisAdapter == nil && mongoAdapter == nil {
		return nil
	}
	return repository.NewGameRecordRepository(redisAdapter, mongoAdapter, logger)
}

func handleShutdown(cancel context.CancelFunc, logger *zap.SugaredLogger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Infof("received signal %s, shutting down", s)
	cancel()
}
