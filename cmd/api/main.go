package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/embedchat/internal/config"
	"github.com/zhouzirui/embedchat/internal/handler"
	"github.com/zhouzirui/embedchat/internal/logging"
	"github.com/zhouzirui/embedchat/internal/service/ai"
	"github.com/zhouzirui/embedchat/internal/service/chat"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fallback := logging.Setup(config.LogConfig{})
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := logging.Setup(cfg.Log)
	if envErr != nil {
		logger.Debug().Err(envErr).Msg("no .env file, using system environment only")
	}

	chatService := chat.NewService()

	var responder ai.Responder = ai.EchoResponder{}
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, cfg.AI, cfg.Server.HistoryLimit)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize AI service, falling back to echo replies")
		} else {
			responder = aiService
			logger.Info().Str("model", cfg.AI.Model).Msg("AI service initialized")
		}
	} else {
		logger.Info().Msg("Ark credentials not configured, using echo replies")
	}

	router := handler.NewRouter(chatService, responder, logger)

	if err := startServer(ctx, cfg.Server, router, logger); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info().Str("addr", serverCfg.Addr).Msg("embed API listening")
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
