package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/trustapp/trust-go-api/internal/models"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "trust",
		Subsystem: "ai",
		Name:      "response_duration_seconds",
		Help:      "Duration of AI counselor reply requests",
	}, []string{"model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trust",
		Subsystem: "ai",
		Name:      "response_failures_total",
		Help:      "Number of AI counselor reply failures",
	}, []string{"model"})
)

// OpenAIConfig defines configuration options for the OpenAI responder.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIResponder implements Responder against the OpenAI chat completion API.
type OpenAIResponder struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIResponder builds a responder using the provided configuration.
func NewOpenAIResponder(cfg OpenAIConfig) (*OpenAIResponder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}

	tracer := otel.Tracer("github.com/trustapp/trust-go-api/pkg/ai/openai")
	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	client := openai.NewClientWithConfig(config)

	return &OpenAIResponder{
		client: client,
		cfg:    cfg,
		tracer: tracer,
		logger: logger,
	}, nil
}

// GenerateResponse sends the conversation to the model and returns its
// reply. Any failure yields the fallback string instead of an error.
func (r *OpenAIResponder) GenerateResponse(parent context.Context, history []models.Message, newMessage string) string {
	ctx, span := r.tracer.Start(parent, "openai.generate_response", trace.WithAttributes(
		attribute.String("model", r.cfg.Model),
	))
	defer span.End()

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: counselorSystemPrompt(),
	})
	for _, message := range history {
		role := openai.ChatMessageRoleUser
		if message.IsAIGenerated {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: message.Text})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: newMessage,
	})

	start := time.Now()
	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.cfg.Model,
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
		Messages:    messages,
	})
	aiDuration.WithLabelValues(r.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		aiFailures.WithLabelValues(r.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn().Err(err).Msg("ai responder failed, using fallback reply")
		return FallbackResponse
	}

	if len(resp.Choices) == 0 {
		aiFailures.WithLabelValues(r.cfg.Model).Inc()
		return FallbackResponse
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return FallbackResponse
	}
	return content
}

func counselorSystemPrompt() string {
	return "You are a warm, empathetic peer counselor in an anonymous support chat. Listen actively, validate feelings, " +
		"and ask gentle open questions. Keep replies short and conversational. Never give medical advice; if the user " +
		"mentions self-harm, encourage them to reach a local crisis line."
}
