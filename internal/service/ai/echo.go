package ai

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// EchoResponder answers without a model by repeating the visitor's message
// word by word. Used when no Ark credentials are configured.
type EchoResponder struct{}

var _ Responder = EchoResponder{}

// Stream implements Responder.
func (EchoResponder) Stream(_ context.Context, req Request) (*schema.StreamReader[*schema.Message], error) {
	reply := "You said: " + strings.TrimSpace(req.Message)

	words := strings.SplitAfter(reply, " ")
	chunks := make([]*schema.Message, 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		chunks = append(chunks, schema.AssistantMessage(w, nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}
