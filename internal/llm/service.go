package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/Boon40/PlantMore/internal/models"
)

const systemPrompt = `You are PlantMore, a friendly houseplant assistant.
Answer questions about plant care, watering, light, soil and pests.
Keep answers short and practical.`

// historyTokenBudget caps how much conversation history goes into the
// prompt, counted with the model's tokenizer.
const historyTokenBudget = 2000

const requestTimeout = 30 * time.Second

// Service produces the assistant reply for the text chat endpoint. When no
// model endpoint is configured it degrades to a plain echo, which is what
// the chat endpoint shipped as before a model was wired in.
type Service struct {
	llm     llms.LLM
	logger  *zap.Logger
	encoder *tiktoken.Tiktoken
}

func New(baseURL, token, model string, logger *zap.Logger) (*Service, error) {
	s := &Service{logger: logger}
	if baseURL == "" {
		return s, nil
	}

	llm, err := openai.New(
		openai.WithToken(token),
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing model client: %w", err)
	}
	s.llm = llm

	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		s.encoder = enc
	} else {
		logger.Warn("tokenizer unavailable, estimating token counts", zap.Error(err))
	}
	return s, nil
}

// Reply generates the assistant's answer given the conversation so far.
// history is oldest first and may contain image-only messages, which are
// skipped.
func (s *Service) Reply(ctx context.Context, history []models.Message, content string) (string, error) {
	if s.llm == nil {
		return fmt.Sprintf("Echo: %s", content), nil
	}

	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nConversation so far:\n")
	b.WriteString(s.renderHistory(history))
	fmt.Fprintf(&b, "\nuser: %s\nassistant:", content)

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	completion, err := llms.GenerateFromSinglePrompt(ctx, s.llm, b.String())
	if err != nil {
		return "", fmt.Errorf("generating completion: %w", err)
	}
	return strings.TrimSpace(completion), nil
}

// renderHistory walks messages newest first, keeping lines until the token
// budget runs out, then restores chronological order.
func (s *Service) renderHistory(history []models.Message) string {
	var lines []string
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Text == nil || *msg.Text == "" {
			continue
		}
		line := fmt.Sprintf("%s: %s\n", msg.Role, *msg.Text)
		used += s.countTokens(line)
		if used > historyTokenBudget {
			break
		}
		lines = append(lines, line)
	}

	var b strings.Builder
	for i := len(lines) - 1; i >= 0; i-- {
		b.WriteString(lines[i])
	}
	return b.String()
}

func (s *Service) countTokens(text string) int {
	if s.encoder != nil {
		return len(s.encoder.Encode(text, nil, nil))
	}
	// rough estimate, ~4 chars per token
	return len(text)/4 + 1
}
