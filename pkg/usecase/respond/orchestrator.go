package respond

import (
	"context"
	"log/slog"

	"github.com/veranda-app/veranda/pkg/adapter"
	"github.com/veranda-app/veranda/pkg/model"
	"github.com/veranda-app/veranda/pkg/utils/logging"
)

const (
	// HistoryWindow caps how many recent turns ride along with a request.
	HistoryWindow = 12

	replyTemperature = 0.6
	replyMaxTokens   = 800
)

// DegradedReply is returned when every backend in the chain has failed.
const DegradedReply = "Xin lỗi cậu, hiên nhà mình đang chập chờn một chút, mình nghe không rõ. Cậu chờ mình một chút rồi nhắn lại nhé. Mình vẫn ở đây."

// CrisisReply is the fixed response for turns triaged as high risk. It is
// never generated; generation is unpredictable exactly when the stakes
// are highest.
const CrisisReply = "Mình đang ở đây với cậu, và mình rất lo cho cậu. Điều cậu vừa nói rất quan trọng, và cậu không phải vượt qua nó một mình đâu. Cậu gọi ngay cho một người cậu tin tưởng nhé, hoặc bấm vào nút bên dưới để xem số điện thoại hỗ trợ. Mình vẫn ở đây, không đi đâu cả."

// Input gathers everything one reply needs.
type Input struct {
	Profile  *model.Profile
	State    model.MentalState
	ChatMode model.ChatMode
	Memories []string
	History  []model.Turn
	Message  string
}

// Result is the parsed outcome of one generation.
type Result struct {
	Reply      string
	Directives Directives
	Backend    string // name of the backend that produced the reply
	Degraded   bool   // true when the whole chain failed
}

// Orchestrator turns a conversation turn into a reply by walking an
// ordered chain of generation backends.
type Orchestrator struct {
	backends []adapter.Generator
}

func New(backends ...adapter.Generator) *Orchestrator {
	return &Orchestrator{backends: backends}
}

// Generate builds the persona prompt and tries each backend in order.
// It does not return an error: when every backend fails the result
// carries a fixed degraded reply, so the caller always has something to
// show. A failed turn is still a turn.
func (o *Orchestrator) Generate(ctx context.Context, input *Input) *Result {
	logger := logging.From(ctx)

	system, err := BuildDirective(input.Profile, input.State, input.ChatMode, input.Memories).Render()
	if err != nil {
		logger.Error("failed to render persona prompt", "error", err)
		return &Result{Reply: DegradedReply, Degraded: true}
	}

	req := &adapter.GenerateRequest{
		System:      system,
		Messages:    buildMessages(input.History, input.Message),
		Temperature: replyTemperature,
		MaxTokens:   replyMaxTokens,
	}

	for _, backend := range o.backends {
		raw, err := backend.Reply(ctx, req)
		if err != nil {
			logger.Warn("generation backend failed, falling back",
				"backend", backend.Name(),
				"error", err,
			)
			continue
		}

		clean, directives := ParseDirectives(raw)
		if clean == "" {
			logger.Warn("generation backend returned empty reply, falling back",
				"backend", backend.Name(),
			)
			continue
		}

		return &Result{
			Reply:      clean,
			Directives: directives,
			Backend:    backend.Name(),
		}
	}

	logger.Error("all generation backends failed", slog.Int("backends", len(o.backends)))
	return &Result{Reply: DegradedReply, Degraded: true}
}

// buildMessages windows the history to the most recent turns and appends
// the current message.
func buildMessages(history []model.Turn, message string) []adapter.Message {
	if len(history) > HistoryWindow {
		history = history[len(history)-HistoryWindow:]
	}

	messages := make([]adapter.Message, 0, len(history)+1)
	for _, turn := range history {
		messages = append(messages, adapter.Message{
			Role:    string(turn.Role),
			Content: turn.Content,
		})
	}
	return append(messages, adapter.Message{Role: string(model.RoleUser), Content: message})
}
