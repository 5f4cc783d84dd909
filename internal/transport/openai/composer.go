package openai

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/metrics"
)

const (
	composePrompt = `You are the Stonewalker, a concise and slightly mystical guide to places locals keep to themselves.
Answer in 2-3 sentences. Mention what makes the finds worth the detour. Never invent places that are not listed.`

	composePlaces       = 5
	composeDescriptionN = 100
)

// Composer writes the short narrative that accompanies ranked places.
type Composer struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *zap.Logger
}

// NewComposer creates a chat-completion response composer.
func NewComposer(cfg *ChatConfig) *Composer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{
		client:      newClient(&cfg.Config),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}
}

// Compose returns response text for the places. Failures wrap domain.ErrUpstream.
func (c *Composer) Compose(ctx context.Context, intent, location string, places []domain.Place) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: composePrompt},
			{Role: openai.ChatMessageRoleUser, Content: ComposeMessage(intent, location, places)},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	metrics.LLMRequestDuration.WithLabelValues("compose").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues("compose", "error").Inc()
		return "", parseAPIError("compose", err, domain.ErrUpstream)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		metrics.LLMRequestsTotal.WithLabelValues("compose", "error").Inc()
		return "", fmt.Errorf("compose: empty reply: %w", domain.ErrUpstream)
	}
	metrics.LLMRequestsTotal.WithLabelValues("compose", "success").Inc()
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ComposeMessage renders the user turn: the request plus the first few places.
func ComposeMessage(intent, location string, places []domain.Place) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Looking for %s in %s. Found %d places.\n", intent, location, len(places))
	for i, p := range places {
		if i == composePlaces {
			break
		}
		fmt.Fprintf(&b, "• %s: %s\n", p.Name, truncate(p.Description, composeDescriptionN))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
