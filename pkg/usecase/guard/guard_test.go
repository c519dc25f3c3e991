package guard_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/veranda-app/veranda/pkg/usecase/guard"
	"google.golang.org/genai"
)

type mockGemini struct {
	generateCalls int
	response      string
	err           error
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.generateCalls++
	if m.err != nil {
		return nil, m.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(m.response, genai.RoleModel)},
		},
	}, nil
}

func (m *mockGemini) Embedding(ctx context.Context, text string) ([]float32, error) {
	return nil, goerr.New("not implemented")
}

func (m *mockGemini) EmbeddingModel() string {
	return "test-embedding-001"
}

func TestCleanReplyShortCircuitsToSafe(t *testing.T) {
	gemini := &mockGemini{}
	g := guard.New(gemini)

	verdict := g.Screen(context.Background(), "Nghe cậu kể, mình cảm nhận được sự mệt mỏi này. Mình vẫn ngồi đây nghe cậu.")
	gt.V(t, verdict).Equal(guard.VerdictSafe)
	// Clean replies never leave the process.
	gt.N(t, gemini.generateCalls).Equal(0)
}

func TestFlaggedReplyEscalated(t *testing.T) {
	testCases := []struct {
		name     string
		response string
		expect   guard.Verdict
	}{
		{"danger", `{"verdict":"DANGER"}`, guard.VerdictDanger},
		{"warning", `{"verdict":"WARNING"}`, guard.VerdictWarning},
		{"false alarm", `{"verdict":"SAFE"}`, guard.VerdictSafe},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gemini := &mockGemini{response: tc.response}
			g := guard.New(gemini)

			verdict := g.Screen(context.Background(), "Cậu nhắc đến chuyện muốn chết, và mình muốn cậu biết cậu không một mình.")
			gt.V(t, verdict).Equal(tc.expect)
			gt.N(t, gemini.generateCalls).Equal(1)
		})
	}
}

func TestGuardFailsOpenToSafe(t *testing.T) {
	testCases := map[string]*mockGemini{
		"transport error": {err: goerr.New("connection refused")},
		"malformed json":  {response: "oops"},
		"unknown verdict": {response: `{"verdict":"MAYBE"}`},
	}

	for name, gemini := range testCases {
		t.Run(name, func(t *testing.T) {
			g := guard.New(gemini)
			verdict := g.Screen(context.Background(), "tin nhắn có nhắc đến tự tử")
			gt.V(t, verdict).Equal(guard.VerdictSafe)
		})
	}
}
