package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	jsonrepair "github.com/kaptinlin/jsonrepair"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/domain"
	"github.com/ChecKMarKDevTools/underfoot-underground-travel-planner/internal/metrics"
)

const parsePrompt = `Parse travel queries into location and intent. Return JSON with "location" and "intent" fields.

Examples:
"hidden gems in Pikeville KY" -> {"location": "Pikeville, KY", "intent": "hidden gems"}
"underground bars near Austin" -> {"location": "Austin", "intent": "underground bars"}
"quirky museums in Portland, Oregon" -> {"location": "Portland, Oregon", "intent": "quirky museums"}

If either field cannot be determined, return an empty string for it.`

// ChatConfig holds chat-completion settings on top of the connection settings.
type ChatConfig struct {
	Config
	Temperature float32
	MaxTokens   int
}

// Parser extracts location and intent from free-form query text.
type Parser struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *zap.Logger
}

// NewParser creates a chat-completion query parser.
func NewParser(cfg *ChatConfig) *Parser {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{
		client:      newClient(&cfg.Config),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}
}

// Parse returns the query's location and intent. A failed call wraps
// domain.ErrUpstream; a reply missing either field wraps domain.ErrUnparseableInput.
func (p *Parser) Parse(ctx context.Context, text string) (domain.ParsedQuery, error) {
	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: parsePrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, req)
	metrics.LLMRequestDuration.WithLabelValues("parse").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues("parse", "error").Inc()
		return domain.ParsedQuery{}, parseAPIError("parse", err, domain.ErrUpstream)
	}
	if len(resp.Choices) == 0 {
		metrics.LLMRequestsTotal.WithLabelValues("parse", "error").Inc()
		return domain.ParsedQuery{}, fmt.Errorf("parse: no choices returned: %w", domain.ErrUpstream)
	}
	metrics.LLMRequestsTotal.WithLabelValues("parse", "success").Inc()

	parsed, err := DecodeParsedQuery(resp.Choices[0].Message.Content)
	if err != nil {
		p.logger.Debug("Query not parseable",
			zap.String("reply", resp.Choices[0].Message.Content),
			zap.Error(err),
		)
		return domain.ParsedQuery{}, err
	}
	return parsed, nil
}

// DecodeParsedQuery reads {"location","intent"} out of a model reply, repairing
// fenced or slightly malformed JSON first.
func DecodeParsedQuery(reply string) (domain.ParsedQuery, error) {
	body := extractObject(reply)
	if body == "" {
		return domain.ParsedQuery{}, fmt.Errorf("no JSON object in reply: %w", domain.ErrUnparseableInput)
	}
	repaired, err := jsonrepair.JSONRepair(body)
	if err != nil {
		return domain.ParsedQuery{}, fmt.Errorf("repair reply: %v: %w", err, domain.ErrUnparseableInput)
	}

	var raw struct {
		Location *string `json:"location"`
		Intent   *string `json:"intent"`
	}
	if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
		return domain.ParsedQuery{}, fmt.Errorf("decode reply: %v: %w", err, domain.ErrUnparseableInput)
	}

	var q domain.ParsedQuery
	if raw.Location != nil {
		q.Location = strings.TrimSpace(*raw.Location)
	}
	if raw.Intent != nil {
		q.Intent = strings.TrimSpace(*raw.Intent)
	}
	if !q.Complete() {
		return domain.ParsedQuery{}, fmt.Errorf("location and intent are both required: %w", domain.ErrUnparseableInput)
	}
	return q, nil
}

// extractObject trims markdown fences and anything outside the outermost braces.
func extractObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}
