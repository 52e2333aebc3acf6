package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ezbot/ezbot/internal/api"
	"github.com/ezbot/ezbot/internal/auth"
	"github.com/ezbot/ezbot/internal/bot"
	"github.com/ezbot/ezbot/internal/config"
	"github.com/ezbot/ezbot/internal/core"
	"github.com/ezbot/ezbot/internal/logging"
	"github.com/ezbot/ezbot/internal/store"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var verbose bool

func main() {
	rootCmd := &cobra.Command{
		Use:           "ezbot",
		Short:         "Telegram assistant bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "force debug logging")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the Telegram gateway and the HTTP API",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "initdb",
			Short: "Create the users table and seed the admin, then exit",
			Args:  cobra.NoArgs,
			RunE:  runInitDB,
		},
		&cobra.Command{
			Use:   "token <subject>",
			Short: "Mint a bearer token for the admin API",
			Args:  cobra.ExactArgs(1),
			RunE:  runToken,
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the process logger.
func setup() (*config.Config, *zap.Logger, error) {
	bootLogger, err := logging.New("INFO")
	if err != nil {
		return nil, nil, err
	}
	defer bootLogger.Sync() //nolint:errcheck

	cfg, err := config.LoadConfig(bootLogger)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.LogLevel
	if verbose {
		level = "DEBUG"
	}
	logger, err := logging.New(level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func openUserRepo(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*store.UserRepo, error) {
	repo, err := store.NewUserRepo(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := repo.InitSchema(ctx); err != nil {
		repo.Close()
		return nil, err
	}
	if err := repo.SeedAdmin(ctx, cfg.AdminUserID); err != nil {
		repo.Close()
		return nil, err
	}
	logger.Info("Identity store ready",
		zap.String("driver", cfg.DatabaseDriver),
		zap.Int64("admin_tg_id", cfg.AdminUserID))
	return repo, nil
}

func openListStore(cfg *config.Config) (store.ListStore, error) {
	if cfg.HistoryBackend == config.HistoryBackendMemory {
		return store.NewMemoryListStore(), nil
	}
	return store.NewRedisListStore(cfg.RedisURL)
}

type completionService interface {
	core.CompletionProvider
	Close()
}

func newCompletionService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (completionService, error) {
	if cfg.CompletionProvider == config.ProviderGemini {
		return core.NewGeminiService(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.CompletionTemperature, logger)
	}
	return core.NewOpenAIService(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.CompletionTemperature, logger), nil
}

func runInitDB(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	repo, err := openUserRepo(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	return repo.Close()
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if !cfg.AdminAPIEnabled() {
		return errors.New("JWT_SECRET is not set, the admin API is disabled")
	}
	token, err := auth.GenerateJWT(cfg.JWTSecret, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := openUserRepo(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize identity store: %w", err)
	}
	defer repo.Close()

	lists, err := openListStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize history store: %w", err)
	}
	defer lists.Close()
	if err := lists.Ping(ctx); err != nil {
		logger.Warn("History store is not reachable yet", zap.String("backend", cfg.HistoryBackend), zap.Error(err))
	}

	prompts, err := core.LoadPersonaPrompts(cfg.PersonaPromptsFile)
	if err != nil {
		return err
	}

	completion, err := newCompletionService(ctx, cfg, logger.Named("completion"))
	if err != nil {
		return err
	}
	defer completion.Close()

	history := core.NewHistoryService(lists, prompts, core.HistoryOptions{
		MaxHistoryMessages: cfg.ChatMaxHistoryMessages,
		MaxStoredMessages:  cfg.ChatMaxStoredMessages,
		TTL:                cfg.ChatTTL,
	}, logger.Named("history"))
	access := core.NewAccessPolicy(repo, cfg.AllowedRoles, cfg.DefaultRole, logger.Named("access"))
	chatService := core.NewChatService(access, repo, history, completion, cfg.TelegramMsgMaxLen, logger.Named("chat"))
	users := core.NewUserCache(cfg.UserCacheSize, cfg.UserCacheTTL)

	if err := tgbotapi.SetLogger(zap.NewStdLog(logger.Named("telegram"))); err != nil {
		return err
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	botAPI.Debug = verbose
	logger.Info("Authorized on Telegram", zap.String("bot", botAPI.Self.UserName))

	gateway := bot.New(botAPI, chatService, users, bot.Options{
		PollTimeout:    cfg.TelegramPollTimeout,
		MaxConcurrency: cfg.TelegramMaxConcurrency,
	}, logger.Named("bot"))

	var webhook http.HandlerFunc
	if cfg.WebhookEnabled() {
		wh, err := tgbotapi.NewWebhook(cfg.TelegramWebhookURL)
		if err != nil {
			return fmt.Errorf("invalid TELEGRAM_WEBHOOK_URL: %w", err)
		}
		if _, err := botAPI.Request(wh); err != nil {
			return fmt.Errorf("failed to register webhook: %w", err)
		}
		logger.Info("Webhook registered", zap.String("url", cfg.TelegramWebhookURL))
		webhook = gateway.ServeWebhook
	} else if _, err := botAPI.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		logger.Warn("Failed to clear a previously registered webhook", zap.Error(err))
	}

	apiHandler := api.NewAPIHandler(chatService, map[string]api.Pinger{
		"identity_store": repo,
		"history_store":  lists,
	}, cfg.JWTSecret, logger.Named("http"))
	router := api.NewRouter(apiHandler, webhook)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("addr", srv.Addr), zap.Bool("admin_api", cfg.AdminAPIEnabled()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not listen on %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return gateway.Wait()
	})
	if !cfg.WebhookEnabled() {
		g.Go(func() error {
			return gateway.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("ezbot exited gracefully")
	return nil
}
