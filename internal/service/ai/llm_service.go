package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/embedchat/internal/config"
	"github.com/zhouzirui/embedchat/internal/model/chat"
)

// DefaultSystemPrompt is used when the embed does not override the prompt.
const DefaultSystemPrompt = "You are a helpful assistant embedded on a website. Answer the visitor clearly and concisely."

// Request is one visitor turn to answer.
type Request struct {
	EmbedID   string
	SessionID string
	Prompt    string
	History   []chat.Message
	Message   string
}

// Responder produces a streamed assistant reply.
type Responder interface {
	Stream(ctx context.Context, req Request) (*schema.StreamReader[*schema.Message], error)
}

// Service answers through an eino chain backed by the configured chat model.
type Service struct {
	chatModel    model.ChatModel
	cfg          config.AIConfig
	historyLimit int
	chain        compose.Runnable[map[string]any, *schema.Message]
}

// NewService builds the Ark chat model and compiles the prompt chain.
func NewService(ctx context.Context, cfg config.AIConfig, historyLimit int) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, cfg, historyLimit)
}

// NewServiceWithModel compiles the prompt chain around an existing model.
func NewServiceWithModel(ctx context.Context, chatModel model.ChatModel, cfg config.AIConfig, historyLimit int) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	if historyLimit < 1 {
		historyLimit = 1
	}

	return &Service{
		chatModel:    chatModel,
		cfg:          cfg,
		historyLimit: historyLimit,
		chain:        runnable,
	}, nil
}

var _ Responder = (*Service)(nil)

// Stream implements Responder. With streaming disabled the full reply is
// generated first and delivered as a single frame.
func (s *Service) Stream(ctx context.Context, req Request) (*schema.StreamReader[*schema.Message], error) {
	input := s.buildChainInput(req)

	if !s.cfg.StreamResponse {
		response, err := s.chain.Invoke(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to run AI chain: %w", err)
		}
		log.Debug().Str("embed_id", req.EmbedID).Str("session_id", req.SessionID).Int("length", len(response.Content)).Msg("generated reply")
		return schema.StreamReaderFromArray([]*schema.Message{response}), nil
	}

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	return stream, nil
}

func (s *Service) buildChainInput(req Request) map[string]any {
	system := strings.TrimSpace(req.Prompt)
	if system == "" {
		system = DefaultSystemPrompt
	}
	return map[string]any{
		"system":  system,
		"history": buildHistoryMessages(req.History, s.historyLimit),
		"query":   req.Message,
	}
}

func buildHistoryMessages(messages []chat.Message, limit int) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > limit {
		startIdx = len(messages) - limit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history
}
