package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// OpenAIService completes chats with the OpenAI chat completions API.
type OpenAIService struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

// NewOpenAIService builds a client for apiKey. baseURL may be empty to use the public API.
func NewOpenAIService(apiKey, baseURL, model string, temperature float32, logger *zap.Logger) *OpenAIService {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIService{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
		logger:      logger,
	}
}

func (s *OpenAIService) Complete(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: s.temperature,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: openai chat completion failed: %w", ErrCompletion, err)
	}

	s.logger.Debug("OpenAI completion received",
		zap.String("model", s.model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))

	if len(resp.Choices) == 0 {
		s.logger.Warn("OpenAI response had no choices")
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (s *OpenAIService) Close() {}

// GeminiService completes chats with Gemini through a chat session.
type GeminiService struct {
	client      *genai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

func NewGeminiService(ctx context.Context, apiKey, model string, temperature float32, logger *zap.Logger) (*GeminiService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiService{
		client:      client,
		model:       model,
		temperature: temperature,
		logger:      logger,
	}, nil
}

func (s *GeminiService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.Warn("Error closing GenAI client", zap.Error(err))
		} else {
			s.logger.Info("GenAI client closed.")
		}
	}
}

func (s *GeminiService) Complete(ctx context.Context, messages []Message) (string, error) {
	system, history, last, err := toGeminiChat(messages)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCompletion, err)
	}

	model := s.client.GenerativeModel(s.model)
	model.SetTemperature(s.temperature)
	if system != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}

	chatSession := model.StartChat()
	chatSession.History = history

	resp, err := chatSession.SendMessage(ctx, last.Parts...)
	if err != nil {
		return "", fmt.Errorf("%w: gemini chat SendMessage failed: %w", ErrCompletion, err)
	}
	return geminiText(resp, s.logger), nil
}

// toGeminiChat splits messages into a system instruction, prior turns and the
// final user turn. Gemini calls the assistant role "model" and wants turns to
// alternate starting with "user", so consecutive turns of one speaker are
// merged and leading model turns are dropped.
func toGeminiChat(messages []Message) (string, []*genai.Content, *genai.Content, error) {
	var systemParts []string
	var turns []*genai.Content
	for _, m := range messages {
		var role string
		switch m.Role {
		case RoleSystem:
			systemParts = append(systemParts, m.Content)
			continue
		case RoleUser:
			role = "user"
		case RoleAssistant:
			role = "model"
		default:
			return "", nil, nil, fmt.Errorf("unsupported speaker role %q", m.Role)
		}

		if len(turns) == 0 && role == "model" {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Parts = append(turns[n-1].Parts, genai.Text(m.Content))
			continue
		}
		turns = append(turns, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}

	if len(turns) == 0 {
		return "", nil, nil, fmt.Errorf("prompt history is empty for chat completion")
	}
	last := turns[len(turns)-1]
	if last.Role != "user" {
		return "", nil, nil, fmt.Errorf("last message in history is not from 'user', cannot proceed with chat completion")
	}
	return strings.Join(systemParts, "\n\n"), turns[:len(turns)-1], last, nil
}

func geminiText(resp *genai.GenerateContentResponse, logger *zap.Logger) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		logger.Warn("Gemini response was empty or had no valid candidates")
		return ""
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		} else {
			logger.Debug("Gemini response part was not text", zap.String("type", fmt.Sprintf("%T", part)))
		}
	}
	return strings.TrimSpace(responseText.String())
}
