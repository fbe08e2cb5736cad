// Package aigateway wraps the generative AI backend behind four study
// operations. Upstream failures are turned into degraded results, never
// errors.
package aigateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"studyroom-bot/internal/domain"
)

const (
	defaultMaxTokens      = 1000
	questionsMaxTokens    = 2000
	tagsMaxTokens         = 100
	defaultTimeout        = 60 * time.Second
	defaultTextBudget     = 8000
	tagsTextBudget        = 4000
	maxTagLen             = 30
	maxSuggestedTags      = 5
	DefaultQuestionCount  = 5
	MinQuestionCount      = 1
	MaxQuestionCount      = 10
	defaultRequestsPerSec = 5
)

// Operation names the study transformation requested from the backend.
type Operation string

const (
	OpSummarize Operation = "summarize"
	OpExplain   Operation = "explain"
	OpQuestions Operation = "quiz"
	OpTags      Operation = "tags"
)

// LLM completes one chat request.
type LLM interface {
	Complete(ctx context.Context, in domain.CompletionRequest) (string, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Result is the outcome of one gateway call. When Degraded is set, Text is a
// display-safe notice and the call must not be counted against the quota.
type Result struct {
	Text     string
	Tags     []string
	Degraded bool
}

// Config tunes the gateway. Zero values fall back to defaults.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	// RequestsPerSecond paces outbound calls process-wide.
	RequestsPerSecond float64
	Burst             int
	Logger            *slog.Logger
}

// Gateway performs AI study operations.
type Gateway struct {
	llm       LLM
	model     string
	temp      float64
	maxTokens int
	timeout   time.Duration
	pacer     *rate.Limiter
	logger    *slog.Logger
}

// New creates a Gateway over llm.
func New(llm LLM, cfg Config) (*Gateway, error) {
	if llm == nil {
		return nil, errors.New("aigateway: llm must not be nil")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("aigateway: model must not be empty")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = defaultRequestsPerSec
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gateway{
		llm:       llm,
		model:     cfg.Model,
		temp:      cfg.Temperature,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
		pacer:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:    cfg.Logger,
	}, nil
}

// Summarize produces a summary of text.
func (g *Gateway) Summarize(ctx context.Context, text string) Result {
	return g.call(ctx, OpSummarize,
		"You are a helpful study assistant. Provide clear, concise summaries of study materials.",
		"Please provide a comprehensive summary of the following content:\n\n"+Truncate(text, defaultTextBudget),
		g.maxTokens)
}

// Explain restates text in simpler terms.
func (g *Gateway) Explain(ctx context.Context, text string) Result {
	return g.call(ctx, OpExplain,
		"You are a helpful study assistant. Explain complex concepts in simple, easy-to-understand terms.",
		"Please explain the following content in simple terms:\n\n"+Truncate(text, defaultTextBudget),
		g.maxTokens)
}

// GenerateQuestions produces count multiple-choice questions about text.
// count is clamped into [MinQuestionCount, MaxQuestionCount].
func (g *Gateway) GenerateQuestions(ctx context.Context, text string, count int) Result {
	count = ClampQuestionCount(count)
	return g.call(ctx, OpQuestions,
		"You are a helpful study assistant. Create clear, educational multiple-choice questions.",
		fmt.Sprintf("Generate %d multiple-choice questions (with 4 options each and indicate the correct answer) based on this content:\n\n%s",
			count, Truncate(text, defaultTextBudget)),
		questionsMaxTokens)
}

// SuggestTags asks for short keywords describing text. Result.Tags holds the
// cleaned list; an unusable answer leaves it empty without degrading.
func (g *Gateway) SuggestTags(ctx context.Context, text string) Result {
	res := g.call(ctx, OpTags,
		"You are a helpful study assistant. Suggest relevant tags/keywords for study materials.",
		"Suggest 3-5 relevant tags (single words or short phrases, comma-separated) for the following content:\n\n"+Truncate(text, tagsTextBudget),
		tagsMaxTokens)
	if res.Degraded {
		return res
	}
	res.Tags = ParseTags(res.Text)
	return res
}

func (g *Gateway) call(ctx context.Context, op Operation, system, user string, maxTokens int) Result {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.pacer.Wait(ctx); err != nil {
		g.logger.Warn("ai call not paced in time", "op", op, "err", err)
		return degraded(errTimeout)
	}

	start := time.Now()
	text, err := g.llm.Complete(ctx, domain.CompletionRequest{
		Model: g.model,
		Messages: []domain.ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   maxTokens,
		Temperature: g.temp,
	})
	if err != nil {
		g.logger.Error("ai call failed", "op", op, "duration", time.Since(start), "err", err)
		return degraded(classify(ctx, err))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		g.logger.Warn("ai call returned empty content", "op", op)
		return degraded(errEmpty)
	}
	g.logger.Info("ai call completed", "op", op, "duration", time.Since(start))
	return Result{Text: text}
}

type failure int

const (
	errUnavailable failure = iota
	errTimeout
	errBusy
	errEmpty
)

func classify(ctx context.Context, err error) failure {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errTimeout
	}
	var statusErr httpStatusCoder
	if errors.As(err, &statusErr) && statusErr.HTTPStatusCode() == http.StatusTooManyRequests {
		return errBusy
	}
	return errUnavailable
}

func degraded(f failure) Result {
	var text string
	switch f {
	case errTimeout:
		text = "⚠️ The AI service took too long to respond. Please try again later."
	case errBusy:
		text = "⚠️ The AI service is busy right now. Please try again in a minute."
	case errEmpty:
		text = "⚠️ The AI service returned an empty answer. Please try again."
	default:
		text = "⚠️ The AI service is unavailable right now. Please try again later."
	}
	return Result{Text: text, Degraded: true}
}

// Truncate cuts s to at most limit characters without splitting a rune.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

// ParseTags cleans a comma-separated model answer into at most five tags.
func ParseTags(answer string) []string {
	out := make([]string, 0, maxSuggestedTags)
	seen := make(map[string]struct{}, maxSuggestedTags)
	for _, raw := range strings.Split(answer, ",") {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if tag == "" || utf8.RuneCountInString(tag) >= maxTagLen {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
		if len(out) == maxSuggestedTags {
			break
		}
	}
	return out
}

// ClampQuestionCount bounds n into [MinQuestionCount, MaxQuestionCount].
func ClampQuestionCount(n int) int {
	if n < MinQuestionCount {
		return MinQuestionCount
	}
	if n > MaxQuestionCount {
		return MaxQuestionCount
	}
	return n
}

// ParseQuestionCount reads the optional count argument of the quiz command.
// A missing or unparsable argument yields DefaultQuestionCount. Integers
// outside the int range are clamped like any other out-of-range count.
func ParseQuestionCount(arg string) int {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		return DefaultQuestionCount
	}
	n, err := strconv.Atoi(fields[0])
	if errors.Is(err, strconv.ErrRange) {
		if strings.HasPrefix(fields[0], "-") {
			return MinQuestionCount
		}
		return MaxQuestionCount
	}
	if err != nil {
		return DefaultQuestionCount
	}
	return ClampQuestionCount(n)
}
