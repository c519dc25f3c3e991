package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/veranda-app/veranda/pkg/adapter"
	"github.com/veranda-app/veranda/pkg/model"
	"github.com/veranda-app/veranda/pkg/repository"
	"github.com/veranda-app/veranda/pkg/server"
	"github.com/veranda-app/veranda/pkg/usecase/guard"
	"github.com/veranda-app/veranda/pkg/usecase/memory"
	"github.com/veranda-app/veranda/pkg/usecase/respond"
	"github.com/veranda-app/veranda/pkg/usecase/triage"
	"github.com/veranda-app/veranda/pkg/usecase/turn"
	"google.golang.org/genai"
)

type mockGemini struct {
	response string
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(m.response, genai.RoleModel)},
		},
	}, nil
}

func (m *mockGemini) Embedding(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (m *mockGemini) EmbeddingModel() string { return "test-embedding-001" }

type mockBackend struct {
	reply string
}

func (m *mockBackend) Name() string { return "mock" }

func (m *mockBackend) Reply(ctx context.Context, req *adapter.GenerateRequest) (string, error) {
	if m.reply == "" {
		return "", errors.New("backend down")
	}
	return m.reply, nil
}

var testKeys = map[string]string{
	"token-a": "owner-a",
	"token-b": "owner-b",
}

func newTestServer(t *testing.T, backend *mockBackend) (http.Handler, repository.Repository) {
	t.Helper()

	repo := gt.R1(repository.NewSQLite(":memory:")).NoError(t)
	t.Cleanup(func() { repo.Close() })

	classifier := &mockGemini{
		response: `{"risk":"LOW","valence":0.0,"arousal":0.3,"emotion":"bình thường","somatic":"IDLE"}`,
	}
	engine := gt.R1(triage.New(classifier)).NoError(t)
	memories := memory.New(repo, classifier)

	handler := turn.New(
		repo,
		engine,
		memories,
		respond.New(backend),
		guard.New(&mockGemini{response: `{"verdict":"SAFE"}`}),
	)

	srv := server.New(handler, memories, repo, testKeys)
	return srv.Routes(), repo
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		gt.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	gt.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthNoAuth(t *testing.T) {
	h, _ := newTestServer(t, &mockBackend{reply: "ừ"})
	rec := doJSON(t, h, http.MethodGet, "/health", "", nil)
	gt.Equal(t, rec.Code, http.StatusOK)
}

func TestAuthRequired(t *testing.T) {
	h, _ := newTestServer(t, &mockBackend{reply: "ừ"})

	rec := doJSON(t, h, http.MethodGet, "/api/sessions", "", nil)
	gt.Equal(t, rec.Code, http.StatusUnauthorized)

	rec = doJSON(t, h, http.MethodGet, "/api/sessions", "wrong-token", nil)
	gt.Equal(t, rec.Code, http.StatusUnauthorized)
}

func TestChatCreatesSession(t *testing.T) {
	h, _ := newTestServer(t, &mockBackend{reply: "Mình nghe cậu nè."})

	rec := doJSON(t, h, http.MethodPost, "/api/chat", "token-a", map[string]any{
		"message": "hôm nay mình hơi buồn",
	})
	gt.Equal(t, rec.Code, http.StatusOK)

	resp := decode[map[string]string](t, rec)
	gt.Equal(t, resp["reply"], "Mình nghe cậu nè.")
	gt.True(t, resp["conversation_id"] != "")

	rec = doJSON(t, h, http.MethodGet, "/api/sessions", "token-a", nil)
	gt.Equal(t, rec.Code, http.StatusOK)
	list := decode[map[string][]map[string]any](t, rec)
	gt.Equal(t, len(list["sessions"]), 1)
	gt.Equal(t, list["sessions"][0]["title"].(string), "hôm nay mình hơi buồn")
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	h, _ := newTestServer(t, &mockBackend{reply: "ừ"})
	rec := doJSON(t, h, http.MethodPost, "/api/chat", "token-a", map[string]any{})
	gt.Equal(t, rec.Code, http.StatusBadRequest)
}

func TestChatForeignConversationIs404(t *testing.T) {
	h, _ := newTestServer(t, &mockBackend{reply: "ừ"})

	rec := doJSON(t, h, http.MethodPost, "/api/chat", "token-a", map[string]any{
		"message": "chào cậu",
	})
	convID := decode[map[string]string](t, rec)["conversation_id"]

	rec = doJSON(t, h, http.MethodPost, "/api/chat", "token-b", map[string]any{
		"conversation_id": convID,
		"message":         "cho mình xem với",
	})
	gt.Equal(t, rec.Code, http.StatusNotFound)
}

func TestSessionRenameAndDelete(t *testing.T) {
	h, _ := newTestServer(t, &mockBackend{reply: "ừ"})

	rec := doJSON(t, h, http.MethodPost, "/api/chat", "token-a", map[string]any{
		"message": "xin chào",
	})
	convID := decode[map[string]string](t, rec)["conversation_id"]

	rec = doJSON(t, h, http.MethodPost, "/api/sessions/"+convID+"/rename", "token-a", map[string]any{
		"title": "Chuyện hôm qua",
	})
	gt.Equal(t, rec.Code, http.StatusOK)

	// Another owner can neither rename nor delete it.
	rec = doJSON(t, h, http.MethodPost, "/api/sessions/"+convID+"/rename", "token-b", map[string]any{
		"title": "chiếm",
	})
	gt.Equal(t, rec.Code, http.StatusNotFound)

	rec = doJSON(t, h, http.MethodDelete, "/api/sessions/"+convID, "token-b", nil)
	gt.Equal(t, rec.Code, http.StatusNotFound)

	rec = doJSON(t, h, http.MethodDelete, "/api/sessions/"+convID, "token-a", nil)
	gt.Equal(t, rec.Code, http.StatusOK)

	rec = doJSON(t, h, http.MethodGet, "/api/sessions", "token-a", nil)
	list := decode[map[string][]map[string]any](t, rec)
	gt.Equal(t, len(list["sessions"]), 0)
}

func TestMemoryListAndDelete(t *testing.T) {
	h, repo := newTestServer(t, &mockBackend{reply: "Nhớ rồi nha. [SAVE_MEMORY: Thích cà phê trứng ở quán quen]"})
	ctx := context.Background()

	rec := doJSON(t, h, http.MethodPost, "/api/chat", "token-a", map[string]any{
		"message": "mình mê cà phê trứng lắm",
	})
	gt.Equal(t, rec.Code, http.StatusOK)

	records := gt.R1(repo.ListMemories(ctx, model.OwnerID("owner-a"))).NoError(t)
	gt.Equal(t, len(records), 1)

	rec = doJSON(t, h, http.MethodGet, "/api/memories", "token-a", nil)
	list := decode[map[string][]map[string]any](t, rec)
	gt.Equal(t, len(list["memories"]), 1)
	memID := list["memories"][0]["id"].(string)

	// Foreign owner sees nothing and cannot delete.
	rec = doJSON(t, h, http.MethodGet, "/api/memories", "token-b", nil)
	other := decode[map[string][]map[string]any](t, rec)
	gt.Equal(t, len(other["memories"]), 0)

	rec = doJSON(t, h, http.MethodDelete, "/api/memories/"+memID, "token-b", nil)
	gt.Equal(t, rec.Code, http.StatusNotFound)

	rec = doJSON(t, h, http.MethodDelete, "/api/memories/"+memID, "token-a", nil)
	gt.Equal(t, rec.Code, http.StatusOK)
}
