package ai

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/embedchat/internal/model/chat"
)

func TestBuildHistoryMessagesKeepsTail(t *testing.T) {
	msgs := []chat.Message{
		chat.UserMessage("1"),
		chat.AssistantMessage("2"),
		chat.UserMessage("3"),
		chat.AssistantMessage("4"),
	}

	history := buildHistoryMessages(msgs, 2)
	require.Len(t, history, 2)
	assert.Equal(t, "3", history[0].Content)
	assert.Equal(t, "4", history[1].Content)

	assert.Nil(t, buildHistoryMessages(nil, 5))
}

func TestBuildChainInputFallsBackToDefaultPrompt(t *testing.T) {
	s := &Service{historyLimit: 10}

	input := s.buildChainInput(Request{Message: "hi"})
	assert.Equal(t, DefaultSystemPrompt, input["system"])
	assert.Equal(t, "hi", input["query"])

	input = s.buildChainInput(Request{Prompt: "  Be brief.  ", Message: "hi"})
	assert.Equal(t, "Be brief.", input["system"])
}

func TestEchoResponderStreamsWords(t *testing.T) {
	stream, err := EchoResponder{}.Stream(context.Background(), Request{Message: "hello there"})
	require.NoError(t, err)
	defer stream.Close()

	var b strings.Builder
	chunks := 0
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		b.WriteString(msg.Content)
		chunks++
	}

	assert.Equal(t, "You said: hello there", b.String())
	assert.Greater(t, chunks, 1)
}
