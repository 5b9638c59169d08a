package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/iamvkosarev/llm-chat-relay/config"
	"github.com/iamvkosarev/llm-chat-relay/internal/handler"
	"github.com/iamvkosarev/llm-chat-relay/internal/middleware"
	"github.com/iamvkosarev/llm-chat-relay/internal/model"
	bolt_db "github.com/iamvkosarev/llm-chat-relay/internal/storage/bolt-db"
	in_memory "github.com/iamvkosarev/llm-chat-relay/internal/storage/in-memory"
	key_value "github.com/iamvkosarev/llm-chat-relay/internal/storage/key-value"
	"github.com/iamvkosarev/llm-chat-relay/internal/storage/sqlite"
	"github.com/iamvkosarev/llm-chat-relay/internal/transport"
	"github.com/iamvkosarev/llm-chat-relay/internal/usecase"
	openai_tools "github.com/iamvkosarev/llm-chat-relay/pkg/openai-tools"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
)

// RunServer serves the relay until ctx is cancelled.
func RunServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	relay := newRelay(cfg.Upstream, logger)

	server := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     NewRouter(cfg.Server, relay, logger),
		ReadTimeout: cfg.Server.ReadTimeout,
		// Streamed answers can outlive any fixed write deadline.
		WriteTimeout: 0,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "address", cfg.Server.Address, "upstream", cfg.Upstream.BaseURL)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// NewRouter builds the relay HTTP surface.
// Order: CORS -> Recovery -> RequestLogger -> routes.
func NewRouter(cfg config.Server, relay *usecase.RelayUsecase, logger *slog.Logger) http.Handler {
	chatHandler := handler.NewChatHandler(relay, logger)
	modelsHandler := handler.NewModelsHandler(relay, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handler.Health)
	mux.HandleFunc("POST /chat", chatHandler.Chat)
	mux.HandleFunc("GET /models", modelsHandler.ListModels)
	mux.HandleFunc("GET /prompts", handler.ListPrompts)

	var h http.Handler = mux
	h = middleware.RequestLogger(logger)(h)
	h = middleware.Recovery(logger)(h)

	corsHandler := cors.New(
		cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Origin", "Content-Type", "Accept"},
		},
	)
	return corsHandler.Handler(h)
}

// RunChat runs the terminal client until input ends or ctx is cancelled.
func RunChat(
	ctx context.Context, cfg *config.Config, logger *slog.Logger, input usecase.LineReader, out io.Writer,
) error {
	storage, closeStorage, err := NewStorage(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStorage(); err != nil {
			logger.Warn("failed to close storage", "error", err)
		}
	}()

	relay, models := newChatRelay(cfg, logger)

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(cfg.Chat.RenderStyle),
		glamour.WithWordWrap(cfg.Chat.WordWrap),
	)
	if err != nil {
		return fmt.Errorf("failed to create markdown renderer: %w", err)
	}

	store := usecase.NewChatStore(
		usecase.ChatStoreDeps{
			Storage: storage,
			Logger:  logger,
		}, cfg.Chat,
	)

	var terminal *usecase.TerminalUsecase
	chat := usecase.NewChatUsecase(
		usecase.ChatUsecaseDeps{
			Store:    store,
			Relay:    relay,
			Logger:   logger,
			Observer: func(c model.Conversation) { terminal.Observe(c) },
		}, cfg.Chat,
	)
	terminal = usecase.NewTerminalUsecase(
		usecase.TerminalUsecaseDeps{
			Chat:     chat,
			Models:   models,
			Renderer: renderer,
			Logger:   logger,
		}, out,
	)

	return terminal.Run(ctx, input)
}

// NewStorage opens the configured key-value backend. The returned func
// releases it.
func NewStorage(ctx context.Context, cfg config.Storage) (usecase.KeyValueStorage, func() error, error) {
	switch cfg.Driver {
	case config.StorageDriverMemory:
		return in_memory.NewKVStorage(), func() error { return nil }, nil
	case config.StorageDriverRedis:
		rdb := redis.NewClient(
			&redis.Options{
				Addr: cfg.RedisEndpoint,
			},
		)
		storage := key_value.NewKVStorage(rdb, cfg.RedisKeyPrefix, cfg.RedisOpTimeout)
		if err := storage.Ping(ctx); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisEndpoint, err)
		}
		return storage, rdb.Close, nil
	case config.StorageDriverSQLite:
		storage, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		return storage, storage.Close, nil
	case config.StorageDriverBolt:
		storage, err := bolt_db.Open(cfg.BoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bolt storage: %w", err)
		}
		return storage, storage.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", config.ErrUnknownStorageDriver, cfg.Driver)
	}
}

func newRelay(cfg config.Upstream, logger *slog.Logger) *usecase.RelayUsecase {
	client := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: cfg.DialTimeout}).DialContext,
			TLSHandshakeTimeout:   cfg.DialTimeout,
			ResponseHeaderTimeout: 2 * time.Minute,
			IdleConnTimeout:       90 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
	return usecase.NewRelayUsecase(
		usecase.RelayUsecaseDeps{
			HTTPClient:  client,
			CountTokens: openai_tools.CountToken,
			Logger:      logger,
		}, cfg,
	)
}

// newChatRelay picks the remote relay when one is configured, otherwise runs
// the relay in-process against the upstream.
func newChatRelay(cfg *config.Config, logger *slog.Logger) (usecase.Relay, usecase.ModelCatalog) {
	if cfg.Chat.RelayURL != "" {
		client := transport.NewRelayClient(cfg.Chat.RelayURL, nil)
		return client, client
	}
	relay := newRelay(cfg.Upstream, logger)
	return relay, relay
}
