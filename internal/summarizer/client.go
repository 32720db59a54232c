// Package summarizer implements conversation summarization via Google's
// Gemini API. It turns an ordered list of (author, content) lines into a
// short natural-language recap of the discussion.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/recapbot/recapbot/internal/config"
	"github.com/recapbot/recapbot/internal/database"
)

// FallbackMessage is the fixed user-visible text substituted by callers
// when summarization fails. Provider errors never reach end users.
const FallbackMessage = "⚠️ Unable to generate the summary right now."

// EmptyMessage is returned when there is nothing to summarize.
const EmptyMessage = "No messages to summarize."

// Client defines the summarization interface used by the scheduler and
// the on-demand command.
type Client interface {
	// Summarize produces a recap of the given conversation lines.
	// channelName is optional context for the prompt.
	Summarize(ctx context.Context, lines []database.ChatLine, channelName string) (string, error)
}

type sdkClient struct {
	genaiClient   *genai.Client
	log           *slog.Logger
	contentConfig *genai.GenerateContentConfig
	modelName     string
	maxRetries    int
	retryDelay    time.Duration
}

// NewClient creates a new Gemini summarization client with the provided configuration.
func NewClient(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	baseCfg := &genai.GenerateContentConfig{
		Temperature: &cfg.Temperature,
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: SummarySystemInstruction}},
		},
	}

	logger := log.With("component", "summarizer")
	logger.Info("Gemini client initialized successfully", "model", cfg.Model)
	return &sdkClient{
		genaiClient:   gi,
		log:           logger,
		contentConfig: baseCfg,
		modelName:     cfg.Model,
		maxRetries:    cfg.MaxRetries,
		retryDelay:    time.Duration(cfg.RetryDelaySeconds) * time.Second,
	}, nil
}

// Summarize produces a recap of the given conversation lines.
func (c *sdkClient) Summarize(ctx context.Context, lines []database.ChatLine, channelName string) (string, error) {
	if len(lines) == 0 {
		return EmptyMessage, nil
	}

	c.log.DebugContext(ctx, "Generating summary", "channel", channelName, "line_count", len(lines))

	prompt := buildPrompt(lines, channelName)
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := c.generateContentWithRetries(ctx, contents)
	if err != nil {
		c.log.ErrorContext(ctx, "Summary generation failed", "channel", channelName, "error", err)
		return "", fmt.Errorf("summary generation failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		c.log.WarnContext(ctx, "Gemini returned an empty summary", "channel", channelName)
		return "", fmt.Errorf("gemini returned an empty summary")
	}

	return text, nil
}

func (c *sdkClient) generateContentWithRetries(ctx context.Context, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	var err error

	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.genaiClient.Models.GenerateContent(ctx, c.modelName, contents, c.contentConfig)
		if err == nil {
			return resp, nil
		}

		c.log.WarnContext(ctx, "Gemini API call failed, checking for retry",
			"attempt", i+1, "max_retries", c.maxRetries, "error", err)

		var apiErr *genai.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == 500 || apiErr.Code == 503) {
			if i < c.maxRetries {
				c.log.InfoContext(ctx, "Retrying Gemini API call after retriable error",
					"delay", c.retryDelay, "code", apiErr.Code)
				time.Sleep(c.retryDelay)
				continue
			}
			return nil, fmt.Errorf("gemini API call failed after %d retries (APIError code %d): %w",
				c.maxRetries, apiErr.Code, err)
		}

		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}

	return nil, err
}

// buildPrompt renders the conversation transcript plus instructions for
// the model. Lines are rendered as "author: content" in order.
func buildPrompt(lines []database.ChatLine, channelName string) string {
	var transcript strings.Builder
	for _, line := range lines {
		transcript.WriteString(line.Author)
		transcript.WriteString(": ")
		transcript.WriteString(line.Content)
		transcript.WriteByte('\n')
	}

	channelContext := ""
	if channelName != "" {
		channelContext = fmt.Sprintf(" from the #%s channel", channelName)
	}

	return fmt.Sprintf(SummaryPromptTemplate, channelContext, transcript.String())
}
