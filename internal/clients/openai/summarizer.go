package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/yungbote/listinglens-backend/internal/capabilities"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
)

type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Summarizer implements capabilities.Summarizer on the chat completions API.
type Summarizer struct {
	log     *logger.Logger
	client  *goopenai.Client
	catalog *Catalog
	cfg     Config
}

func NewSummarizer(log *logger.Logger, cfg Config) (*Summarizer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing OpenAI API key")
	}
	if cfg.Model == "" {
		cfg.Model = goopenai.GPT4o
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	catalog, err := LoadCatalog()
	if err != nil {
		return nil, err
	}
	oc := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Summarizer{
		log:     log.With("client", "OpenAISummarizer", "model", cfg.Model),
		client:  goopenai.NewClientWithConfig(oc),
		catalog: catalog,
		cfg:     cfg,
	}, nil
}

func (s *Summarizer) Summarize(ctx context.Context, kind capabilities.PromptKind, inputs ...string) (res capabilities.SummaryResult) {
	fail := func(detail string) capabilities.SummaryResult {
		return capabilities.SummaryResult{Failure: &capabilities.SummaryFailure{Kind: kind, Detail: detail}}
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Summarize panic", "kind", kind, "panic", r)
			res = fail(fmt.Sprint(r))
		}
	}()

	system, user, heading, err := s.catalog.Render(kind, inputs)
	if err != nil {
		return fail(err.Error())
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	start := time.Now()
	resp, err := s.client.CreateChatCompletion(cctx, goopenai.ChatCompletionRequest{
		Model:       s.cfg.Model,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: system},
			{Role: goopenai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		var apiErr *goopenai.APIError
		if errors.As(err, &apiErr) {
			s.log.Warn("Chat completion rejected", "kind", kind, "status", apiErr.HTTPStatusCode, "error", apiErr.Message)
			return fail(fmt.Sprintf("api error %d: %s", apiErr.HTTPStatusCode, apiErr.Message))
		}
		s.log.Warn("Chat completion failed", "kind", kind, "error", err)
		return fail(err.Error())
	}
	if len(resp.Choices) == 0 {
		return fail("empty completion")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return fail("empty completion")
	}
	s.log.Debug("Chat completion done", "kind", kind, "duration_ms", time.Since(start).Milliseconds(), "total_tokens", resp.Usage.TotalTokens)

	if kind != capabilities.PromptKeywords && heading != "" && !strings.HasPrefix(text, "#") {
		text = "## " + heading + "\n\n" + text
	}
	return capabilities.SummaryResult{Text: text}
}
