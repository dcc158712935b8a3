package mlservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mailsort_server/core/domain"
	"mailsort_server/core/port/out"
	"mailsort_server/pkg/gateway"
	"mailsort_server/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// =============================================================================
// OpenAI Scorer (ML_BACKEND=openai)
// =============================================================================

const DefaultModel = "gpt-4o-mini"

// maxPromptBody keeps prompts within a predictable token budget.
const maxPromptBody = 4000

const scorerSystemPrompt = `You classify emails into exactly one of the user's categories.
Reply with a JSON object {"label": string, "confidence": number between 0 and 1}.
The label must be copied verbatim from the category list.`

// chatCompleter is the subset of the openai client the scorer uses.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIScorer asks a chat model to pick one of the candidate categories.
type OpenAIScorer struct {
	client chatCompleter
	model  string
	gw     *gateway.Gateway
	log    zerolog.Logger
}

// NewOpenAIScorer creates a scorer using apiKey and model (default gpt-4o-mini).
func NewOpenAIScorer(apiKey, model string, gw *gateway.Gateway, log zerolog.Logger) *OpenAIScorer {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAIScorer{
		client: openai.NewClient(apiKey),
		model:  model,
		gw:     gw,
		log:    log.With().Str("component", "openai_scorer").Logger(),
	}
}

func (s *OpenAIScorer) ModelVersion() string {
	return "openai:" + s.model
}

type llmPrediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

func (s *OpenAIScorer) Predict(ctx context.Context, req *out.PredictRequest) (*out.PredictResponse, error) {
	if len(req.Candidates) == 0 {
		return nil, fmt.Errorf("openai scorer: no candidate categories")
	}

	body := req.Body
	if len(body) > maxPromptBody {
		body = body[:maxPromptBody]
	}
	userPrompt := fmt.Sprintf("Categories: %s\n\nSubject: %s\n\n%s",
		strings.Join(req.Candidates, ", "), req.Subject, body)

	resp, err := gateway.Do(ctx, s.gw, gateway.TargetMLService, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		start := time.Now()
		defer metrics.ObserveCall("openai", "predict", start)

		return s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: s.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: scorerSystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
			Temperature: 0,
			MaxTokens:   60,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai scorer: empty choices")
	}

	var pred llmPrediction
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &pred); err != nil {
		return nil, fmt.Errorf("openai scorer: decode: %w", err)
	}

	// 후보 목록에 없는 라벨은 대소문자만 맞춰 복원
	label := pred.Label
	for _, c := range req.Candidates {
		if strings.EqualFold(c, strings.TrimSpace(label)) {
			label = c
			break
		}
	}

	return &out.PredictResponse{
		Label:        label,
		Confidence:   pred.Confidence,
		ModelVersion: s.ModelVersion(),
	}, nil
}

// SyncCategory is a no-op: the prompt carries the category list on every call.
func (s *OpenAIScorer) SyncCategory(ctx context.Context, userID string, category *domain.Category) error {
	return nil
}

var _ out.MLScorer = (*OpenAIScorer)(nil)
