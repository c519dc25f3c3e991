// Package turn runs the full pipeline for one conversation turn: triage,
// affect state transition, memory retrieval, generation, output screening,
// and persistence.
package turn

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/veranda-app/veranda/pkg/model"
	"github.com/veranda-app/veranda/pkg/repository"
	"github.com/veranda-app/veranda/pkg/usecase/affect"
	"github.com/veranda-app/veranda/pkg/usecase/guard"
	"github.com/veranda-app/veranda/pkg/usecase/memory"
	"github.com/veranda-app/veranda/pkg/usecase/respond"
	"github.com/veranda-app/veranda/pkg/usecase/triage"
	"github.com/veranda-app/veranda/pkg/utils/logging"
)

// Input is one inbound message from a user.
type Input struct {
	ConversationID model.ConversationID // empty starts a new conversation
	OwnerID        model.OwnerID
	Text           string
	ChatMode       model.ChatMode
	Incognito      bool // suppress long-term memory writes for this turn
}

// Output is everything the client needs to render the turn.
type Output struct {
	ConversationID model.ConversationID
	Reply          string
	UICommand      respond.UICommand
	ModeSwitch     model.ChatMode
	MentalState    model.MentalState
}

// Handler wires the turn pipeline together.
type Handler struct {
	repo         repository.Repository
	triage       *triage.Engine
	memories     *memory.Service
	orchestrator *respond.Orchestrator
	guard        *guard.Guard
}

func New(repo repository.Repository, tr *triage.Engine, mem *memory.Service, orch *respond.Orchestrator, gd *guard.Guard) *Handler {
	return &Handler{
		repo:         repo,
		triage:       tr,
		memories:     mem,
		orchestrator: orch,
		guard:        gd,
	}
}

// HandleTurn processes one inbound message end to end. Triage and the
// affect transition always run. A high-risk verdict short-circuits to a
// fixed crisis reply before any generation backend is touched. Otherwise
// the reply is generated through the fallback chain, screened, and any
// extracted memory directive is applied unless the turn is incognito.
// Both turns are persisted in every path.
func (h *Handler) HandleTurn(ctx context.Context, input *Input) (*Output, error) {
	if input.Text == "" {
		return nil, goerr.New("empty message")
	}
	if input.OwnerID == "" {
		return nil, goerr.New("missing owner")
	}

	logger := logging.From(ctx)

	conv, err := h.loadOrCreate(ctx, input)
	if err != nil {
		return nil, err
	}
	ctx = logging.With(ctx, logger.With("conversation_id", string(conv.ID)))
	logger = logging.From(ctx)

	verdict := h.triage.Classify(ctx, input.Text)

	// The affect state rides on the conversation row loaded above.
	state := conv.MentalState
	next := affect.Next(state, verdict)
	if next != state {
		logger.Info("mental state transition",
			"from", state,
			"to", next,
			"arousal", verdict.Arousal,
		)
		if err := h.repo.SetState(ctx, conv.ID, next); err != nil {
			return nil, goerr.Wrap(err, "failed to update mental state")
		}
	}

	if verdict.Risk == model.RiskHigh {
		return h.crisisTurn(ctx, conv, input, next)
	}

	output, err := h.generatedTurn(ctx, conv, input, verdict, next)
	if err != nil {
		return nil, err
	}
	return output, nil
}

// loadOrCreate resolves the target conversation, enforcing ownership.
// A conversation belonging to another owner is indistinguishable from a
// missing one.
func (h *Handler) loadOrCreate(ctx context.Context, input *Input) (*model.Conversation, error) {
	if input.ConversationID == "" {
		conv := model.NewConversation(input.OwnerID, input.Text)
		if err := h.repo.PutConversation(ctx, conv); err != nil {
			return nil, goerr.Wrap(err, "failed to create conversation")
		}
		return conv, nil
	}

	conv, err := h.repo.GetConversation(ctx, input.ConversationID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load conversation",
			goerr.V("conversation_id", input.ConversationID),
		)
	}
	if conv.OwnerID != input.OwnerID {
		return nil, goerr.Wrap(repository.ErrConversationNotFound, "conversation not owned by caller",
			goerr.V("conversation_id", input.ConversationID),
		)
	}
	return conv, nil
}

// crisisTurn answers a high-risk message with the fixed crisis reply and
// the emergency-resources command. No generation backend runs here.
func (h *Handler) crisisTurn(ctx context.Context, conv *model.Conversation, input *Input, state model.MentalState) (*Output, error) {
	logging.From(ctx).Warn("crisis short-circuit engaged")

	if err := h.appendTurns(ctx, conv.ID, input.Text, respond.CrisisReply); err != nil {
		return nil, err
	}

	return &Output{
		ConversationID: conv.ID,
		Reply:          respond.CrisisReply,
		UICommand:      respond.UIOpenSOS,
		MentalState:    state,
	}, nil
}

func (h *Handler) generatedTurn(ctx context.Context, conv *model.Conversation, input *Input, verdict *model.TriageVerdict, state model.MentalState) (*Output, error) {
	logger := logging.From(ctx)

	history, err := h.repo.GetRecentTurns(ctx, conv.ID, respond.HistoryWindow)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load recent turns")
	}

	profile, err := h.repo.GetProfile(ctx, input.OwnerID)
	if err != nil {
		if !errors.Is(err, repository.ErrProfileNotFound) {
			logger.Warn("failed to load profile, continuing without", "error", err)
		}
		profile = nil
	}

	var memories []string
	scored, err := h.memories.Query(ctx, input.OwnerID, input.Text, 0)
	if err != nil {
		logger.Warn("memory retrieval failed, continuing without", "error", err)
	}
	for _, s := range scored {
		memories = append(memories, s.Record.Text)
	}

	mode := input.ChatMode
	if mode == "" {
		mode = model.ModeTalking
	}

	result := h.orchestrator.Generate(ctx, &respond.Input{
		Profile:  profile,
		State:    state,
		ChatMode: mode,
		Memories: memories,
		History:  history,
		Message:  input.Text,
	})

	reply := result.Reply
	directives := result.Directives

	if !result.Degraded {
		switch h.guard.Screen(ctx, reply) {
		case guard.VerdictDanger:
			logger.Warn("reply replaced by screen verdict", "backend", result.Backend)
			reply = guard.FallbackReply
			directives = respond.Directives{UICommand: respond.UIOpenSOS}
		case guard.VerdictWarning:
			reply += guard.Postscript
		}
	}

	if directives.Memory != nil && !input.Incognito {
		h.applyMemoryDirective(ctx, input.OwnerID, directives.Memory)
	}

	if err := h.appendTurns(ctx, conv.ID, input.Text, reply); err != nil {
		return nil, err
	}

	return &Output{
		ConversationID: conv.ID,
		Reply:          reply,
		UICommand:      directives.UICommand,
		ModeSwitch:     directives.ModeSwitch,
		MentalState:    state,
	}, nil
}

// applyMemoryDirective stores an extracted memory. Failures are logged
// and swallowed: a lost memory must not lose the reply.
func (h *Handler) applyMemoryDirective(ctx context.Context, ownerID model.OwnerID, directive *respond.MemoryDirective) {
	logger := logging.From(ctx)

	switch directive.Kind {
	case respond.MemoryKindRecord:
		if _, err := h.memories.Write(ctx, ownerID, directive.Text); err != nil {
			logger.Warn("failed to save memory record", "error", err)
		}
	case respond.MemoryKindCoreUpdate:
		if err := h.repo.UpdateCoreMemoryField(ctx, ownerID, directive.Text); err != nil {
			logger.Warn("failed to update core memory", "error", err)
		}
	}
}

func (h *Handler) appendTurns(ctx context.Context, id model.ConversationID, userText, assistantText string) error {
	now := time.Now()
	if err := h.repo.AppendTurn(ctx, id, model.Turn{
		Role:      model.RoleUser,
		Content:   userText,
		Timestamp: now,
	}); err != nil {
		return goerr.Wrap(err, "failed to append user turn")
	}
	if err := h.repo.AppendTurn(ctx, id, model.Turn{
		Role:      model.RoleAssistant,
		Content:   assistantText,
		Timestamp: now.Add(time.Millisecond),
	}); err != nil {
		return goerr.Wrap(err, "failed to append assistant turn")
	}
	return nil
}
