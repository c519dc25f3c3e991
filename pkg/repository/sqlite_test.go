package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/veranda-app/veranda/pkg/model"
	"github.com/veranda-app/veranda/pkg/repository"
)

func setupSQLite(t *testing.T) repository.Repository {
	repo, err := repository.NewSQLite(":memory:")
	gt.NoError(t, err)
	return repo
}

func TestSQLiteConversationLifecycle(t *testing.T) {
	repo := setupSQLite(t)
	ctx := context.Background()

	conv := model.NewConversation("owner-a", "dạo này mình mệt quá")
	gt.NoError(t, repo.PutConversation(ctx, conv))

	loaded := gt.R1(repo.GetConversation(ctx, conv.ID)).NoError(t)
	gt.V(t, loaded.OwnerID).Equal(model.OwnerID("owner-a"))
	gt.V(t, loaded.Title).Equal("dạo này mình mệt quá")
	gt.V(t, loaded.MentalState).Equal(model.StateIdle)

	gt.NoError(t, repo.RenameConversation(ctx, "owner-a", conv.ID, "tuần khó khăn"))
	renamed := gt.R1(repo.GetConversation(ctx, conv.ID)).NoError(t)
	gt.V(t, renamed.Title).Equal("tuần khó khăn")

	gt.NoError(t, repo.DeleteConversation(ctx, "owner-a", conv.ID))
	_, err := repo.GetConversation(ctx, conv.ID)
	gt.Error(t, err)
}

func TestSQLiteConversationOwnerScoping(t *testing.T) {
	repo := setupSQLite(t)
	ctx := context.Background()

	conv := model.NewConversation("owner-a", "xin chào")
	gt.NoError(t, repo.PutConversation(ctx, conv))

	// Another owner must not be able to rename or delete.
	gt.Error(t, repo.RenameConversation(ctx, "owner-b", conv.ID, "hijacked"))
	gt.Error(t, repo.DeleteConversation(ctx, "owner-b", conv.ID))

	listed := gt.R1(repo.ListConversations(ctx, "owner-b")).NoError(t)
	gt.A(t, listed).Length(0)
}

func TestSQLiteAppendTurnAdvancesUpdatedAt(t *testing.T) {
	repo := setupSQLite(t)
	ctx := context.Background()

	conv := model.NewConversation("owner-a", "hello")
	conv.UpdatedAt = time.Now().Add(-time.Hour)
	conv.CreatedAt = conv.UpdatedAt
	gt.NoError(t, repo.PutConversation(ctx, conv))

	now := time.Now()
	gt.NoError(t, repo.AppendTurn(ctx, conv.ID, model.Turn{
		Role: model.RoleUser, Content: "hello", Timestamp: now,
	}))

	loaded := gt.R1(repo.GetConversation(ctx, conv.ID)).NoError(t)
	gt.B(t, loaded.UpdatedAt.After(conv.UpdatedAt)).True()
}

func TestSQLiteAppendTurnKeepsLogAndMetadataInStep(t *testing.T) {
	repo := setupSQLite(t)
	ctx := context.Background()

	conv := model.NewConversation("owner-a", "hello")
	gt.NoError(t, repo.PutConversation(ctx, conv))

	base := time.Now().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		gt.NoError(t, repo.AppendTurn(ctx, conv.ID, model.Turn{
			Role: model.RoleUser, Content: "turn", Timestamp: ts,
		}))

		// After every append the metadata row matches the newest turn.
		loaded := gt.R1(repo.GetConversation(ctx, conv.ID)).NoError(t)
		gt.B(t, loaded.UpdatedAt.Equal(ts)).True()

		turns := gt.R1(repo.GetRecentTurns(ctx, conv.ID, 10)).NoError(t)
		gt.A(t, turns).Length(i + 1)
		gt.B(t, turns[i].Timestamp.Equal(ts)).True()
	}
}

func TestSQLiteRecentTurnsWindow(t *testing.T) {
	repo := setupSQLite(t)
	ctx := context.Background()

	conv := model.NewConversation("owner-a", "hello")
	gt.NoError(t, repo.PutConversation(ctx, conv))

	base := time.Now()
	contents := []string{"one", "two", "three", "four", "five"}
	for i, content := range contents {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		gt.NoError(t, repo.AppendTurn(ctx, conv.ID, model.Turn{
			Role: role, Content: content, Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	turns := gt.R1(repo.GetRecentTurns(ctx, conv.ID, 3)).NoError(t)
	gt.A(t, turns).Length(3)
	// Chronological order, window anchored at the newest turn.
	gt.V(t, turns[0].Content).Equal("three")
	gt.V(t, turns[2].Content).Equal("five")
}

func TestSQLiteState(t *testing.T) {
	repo := setupSQLite(t)
	ctx := context.Background()

	conv := model.NewConversation("owner-a", "hello")
	gt.NoError(t, repo.PutConversation(ctx, conv))

	state := gt.R1(repo.GetState(ctx, conv.ID)).NoError(t)
	gt.V(t, state).Equal(model.StateIdle)

	gt.NoError(t, repo.SetState(ctx, conv.ID, model.StatePanic))
	state = gt.R1(repo.GetState(ctx, conv.ID)).NoError(t)
	gt.V(t, state).Equal(model.StatePanic)

	_, err := repo.GetState(ctx, model.NewConversationID())
	gt.Error(t, err)
}

func TestSQLiteProfile(t *testing.T) {
	repo := setupSQLite(t)
	ctx := context.Background()

	_, err := repo.GetProfile(ctx, "owner-a")
	gt.Error(t, err)

	profile := &model.Profile{
		OwnerID:        "owner-a",
		DisplayName:    "Minh",
		CoreMemory:     "Người dùng mới, chưa có thông tin.",
		TopicBlacklist: []string{"điểm thi"},
		UpdatedAt:      time.Now(),
	}
	gt.NoError(t, repo.PutProfile(ctx, profile))

	loaded := gt.R1(repo.GetProfile(ctx, "owner-a")).NoError(t)
	gt.V(t, loaded.DisplayName).Equal("Minh")
	gt.A(t, loaded.TopicBlacklist).Length(1)

	gt.NoError(t, repo.UpdateCoreMemoryField(ctx, "owner-a", "Thích vẽ tranh. Sợ deadline."))
	loaded = gt.R1(repo.GetProfile(ctx, "owner-a")).NoError(t)
	gt.V(t, loaded.CoreMemory).Equal("Thích vẽ tranh. Sợ deadline.")

	gt.Error(t, repo.UpdateCoreMemoryField(ctx, "owner-missing", "x"))
}

func TestSQLiteMemoryOwnership(t *testing.T) {
	repo := setupSQLite(t)
	ctx := context.Background()

	recA := &model.MemoryRecord{
		ID:           model.NewMemoryID(),
		OwnerID:      "owner-a",
		Text:         "thích uống trà gừng buổi tối",
		Embedding:    []float32{0.1, 0.2, 0.3},
		ModelVersion: "gemini-embedding-001",
		CreatedAt:    time.Now(),
	}
	recB := &model.MemoryRecord{
		ID:           model.NewMemoryID(),
		OwnerID:      "owner-b",
		Text:         "sợ chỗ đông người",
		Embedding:    []float32{0.3, 0.2, 0.1},
		ModelVersion: "gemini-embedding-001",
		CreatedAt:    time.Now(),
	}
	gt.NoError(t, repo.PutMemory(ctx, recA))
	gt.NoError(t, repo.PutMemory(ctx, recB))

	listed := gt.R1(repo.ListMemories(ctx, "owner-a")).NoError(t)
	gt.A(t, listed).Length(1)
	gt.V(t, listed[0].Text).Equal("thích uống trà gừng buổi tối")
	gt.A(t, listed[0].Embedding).Length(3)

	// Deleting another owner's record must fail and leave it intact.
	gt.Error(t, repo.DeleteMemory(ctx, "owner-a", recB.ID))
	listed = gt.R1(repo.ListMemories(ctx, "owner-b")).NoError(t)
	gt.A(t, listed).Length(1)

	gt.NoError(t, repo.DeleteMemory(ctx, "owner-b", recB.ID))
	listed = gt.R1(repo.ListMemories(ctx, "owner-b")).NoError(t)
	gt.A(t, listed).Length(0)
}
