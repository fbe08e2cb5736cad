package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"studyroom-bot/handler"
	"studyroom-bot/internal/aigateway"
	"studyroom-bot/internal/conversation"
	"studyroom-bot/internal/dispatch"
	"studyroom-bot/internal/integrations/openai"
	"studyroom-bot/internal/integrations/paramstore"
	"studyroom-bot/internal/integrations/telegram"
	"studyroom-bot/internal/ratelimit"
	"studyroom-bot/internal/repository"
	"studyroom-bot/internal/search"
	"studyroom-bot/internal/tagging"
	"studyroom-bot/internal/usecase"
)

const (
	pollTimeoutSeconds = 50

	// AI calls in lambda mode finish early enough to reply inside the
	// webhook's update deadline.
	lambdaAITimeout = handler.DefaultUpdateTimeout - 5*time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Configuration (read only here) ----
	tableName := mustEnv("TABLE_NAME")
	paramPrefix := mustEnv("PARAM_PREFIX")
	runMode := envString("RUN_MODE", "lambda")
	botUsername := os.Getenv("BOT_USERNAME")
	aiBaseURL := os.Getenv("AI_BASE_URL")
	aiModel := envString("AI_MODEL", "sonar")
	aiTemperature := envFloat("AI_TEMPERATURE", 0.7)
	aiMaxTokens := envInt("AI_MAX_TOKENS", 1000)
	aiDailyLimit := envInt("AI_DAILY_LIMIT", 50)
	aiTimeout := time.Duration(envInt("AI_TIMEOUT_SECONDS", 60)) * time.Second
	aiRequestsPerSecond := envFloat("AI_REQUESTS_PER_SECOND", 5)
	sessionIdle := time.Duration(envInt("SESSION_IDLE_MINUTES", 30)) * time.Minute
	searchPageSize := envInt("SEARCH_PAGE_SIZE", 5)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(os.Getenv("LOG_LEVEL"))}))
	slog.SetDefault(logger)

	if runMode == "lambda" && aiTimeout > lambdaAITimeout {
		logger.Warn("AI timeout capped for lambda mode", "configured", aiTimeout, "effective", lambdaAITimeout)
		aiTimeout = lambdaAITimeout
	}

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	secrets, err := paramstore.New(awsssm.NewFromConfig(cfg), paramPrefix)
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(cfg), tableName, repository.WithLogger(logger))
	if err != nil {
		slog.Error("failed to create store", "err", err)
		os.Exit(1)
	}

	var aiOpts []openai.Option
	if aiBaseURL != "" {
		aiOpts = append(aiOpts, openai.WithBaseURL(aiBaseURL))
	}
	llm, err := openai.NewClient(secrets, paramstore.AIToken, aiOpts...)
	if err != nil {
		slog.Error("failed to create AI client", "err", err)
		os.Exit(1)
	}
	tg, err := telegram.NewClient(secrets, paramstore.TelegramToken)
	if err != nil {
		slog.Error("failed to create Telegram client", "err", err)
		os.Exit(1)
	}

	// ---- Components ----
	gateway, err := aigateway.New(llm, aigateway.Config{
		Model:             aiModel,
		Temperature:       aiTemperature,
		MaxTokens:         aiMaxTokens,
		Timeout:           aiTimeout,
		RequestsPerSecond: aiRequestsPerSecond,
		Logger:            logger,
	})
	if err != nil {
		slog.Error("failed to create AI gateway", "err", err)
		os.Exit(1)
	}
	limiter, err := ratelimit.New(store, aiDailyLimit)
	if err != nil {
		slog.Error("failed to create rate limiter", "err", err)
		os.Exit(1)
	}
	roomFlow, err := conversation.NewRoomCreation(usecase.RoomCreation(store))
	if err != nil {
		slog.Error("failed to build room workflow", "err", err)
		os.Exit(1)
	}
	engine, err := conversation.NewEngine(conversation.Config{IdleTTL: sessionIdle, Logger: logger}, roomFlow)
	if err != nil {
		slog.Error("failed to create conversation engine", "err", err)
		os.Exit(1)
	}
	merger, err := tagging.NewMerger(store)
	if err != nil {
		slog.Error("failed to create tag merger", "err", err)
		os.Exit(1)
	}
	pager, err := search.NewPaginator(store, searchPageSize)
	if err != nil {
		slog.Error("failed to create paginator", "err", err)
		os.Exit(1)
	}

	bot, err := usecase.NewBot(usecase.Deps{
		Messenger:     tg,
		Store:         store,
		AI:            gateway,
		Quota:         limiter,
		Conversations: engine,
		Tagger:        merger,
		Searcher:      pager,
		Logger:        logger,
	})
	if err != nil {
		slog.Error("failed to create bot", "err", err)
		os.Exit(1)
	}

	switch runMode {
	case "poll":
		d, err := dispatch.New(bot, logger)
		if err != nil {
			slog.Error("failed to create dispatcher", "err", err)
			os.Exit(1)
		}
		if err := poll(ctx, tg, d, botUsername, logger); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("polling stopped", "err", err)
			os.Exit(1)
		}
	case "lambda":
		admin, err := usecase.NewAdminService(store)
		if err != nil {
			slog.Error("failed to create admin service", "err", err)
			os.Exit(1)
		}
		h, err := handler.NewHandler(bot, admin, secrets,
			handler.WithBotUsername(botUsername),
			handler.WithLogger(logger))
		if err != nil {
			slog.Error("failed to create handler", "err", err)
			os.Exit(1)
		}
		lambda.StartWithOptions(h.Handle, lambda.WithContext(ctx))
	default:
		slog.Error("unknown run mode", "mode", runMode)
		os.Exit(1)
	}
}

// poll long-polls for updates and feeds them to the dispatcher until ctx is
// cancelled. Queued events finish before it returns.
func poll(ctx context.Context, tg *telegram.Client, d *dispatch.Dispatcher, botUsername string, logger *slog.Logger) error {
	defer d.Close()
	if err := tg.DeleteWebhook(ctx); err != nil {
		return err
	}
	logger.Info("polling for updates")
	var offset int64
	for {
		updates, err := tg.GetUpdates(ctx, offset, pollTimeoutSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("getUpdates failed", "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}
		for _, u := range updates {
			offset = u.UpdateID + 1
			ev, ok := dispatch.ToEvent(u, botUsername)
			if !ok {
				continue
			}
			if err := d.Dispatch(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func logLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}
