package respond_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/veranda-app/veranda/pkg/adapter"
	"github.com/veranda-app/veranda/pkg/model"
	"github.com/veranda-app/veranda/pkg/usecase/respond"
)

type mockBackend struct {
	name    string
	reply   string
	err     error
	calls   int
	lastReq *adapter.GenerateRequest
}

func (m *mockBackend) Name() string { return m.name }

func (m *mockBackend) Reply(_ context.Context, req *adapter.GenerateRequest) (string, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

func TestParseDirectivesUICommand(t *testing.T) {
	clean, d := respond.ParseDirectives("Thử bài thở này nhé. [OPEN_RELAX]")
	gt.Equal(t, clean, "Thử bài thở này nhé.")
	gt.Equal(t, d.UICommand, respond.UIOpenRelax)
	gt.Equal(t, d.ModeSwitch, model.ChatMode(""))
	gt.Nil(t, d.Memory)
}

func TestParseDirectivesFirstUICommandWins(t *testing.T) {
	clean, d := respond.ParseDirectives("[OPEN_JAR] giữ lại niềm vui này nhé [OPEN_CBT]")
	gt.Equal(t, d.UICommand, respond.UIOpenJar)
	gt.Equal(t, clean, "giữ lại niềm vui này nhé")
}

func TestParseDirectivesMemoryRecord(t *testing.T) {
	clean, d := respond.ParseDirectives("Nghe vui quá! [SAVE_MEMORY: Cậu ấy vừa nhận nuôi một chú mèo tên Bơ]")
	gt.Equal(t, clean, "Nghe vui quá!")
	gt.NotNil(t, d.Memory)
	gt.Equal(t, d.Memory.Kind, respond.MemoryKindRecord)
	gt.Equal(t, d.Memory.Text, "Cậu ấy vừa nhận nuôi một chú mèo tên Bơ")
}

func TestParseDirectivesCoreUpdate(t *testing.T) {
	_, d := respond.ParseDirectives("Chúc mừng cậu nhé. [UPDATE_CONTEXT: Vừa chuyển vào Sài Gòn để bắt đầu công việc mới]")
	gt.NotNil(t, d.Memory)
	gt.Equal(t, d.Memory.Kind, respond.MemoryKindCoreUpdate)
	gt.Equal(t, d.Memory.Text, "Vừa chuyển vào Sài Gòn để bắt đầu công việc mới")
}

func TestParseDirectivesFirstMemoryWins(t *testing.T) {
	_, d := respond.ParseDirectives("[SAVE_MEMORY: thích cà phê trứng] và [UPDATE_CONTEXT: nghỉ việc]")
	gt.Equal(t, d.Memory.Kind, respond.MemoryKindRecord)
	gt.Equal(t, d.Memory.Text, "thích cà phê trứng")
}

func TestParseDirectivesModeSwitch(t *testing.T) {
	clean, d := respond.ParseDirectives("Ừ, mình nghe đây. [SWITCH_TO_LISTEN]")
	gt.Equal(t, clean, "Ừ, mình nghe đây.")
	gt.Equal(t, d.ModeSwitch, model.ModeListening)
}

func TestParseDirectivesEmptyPayloadIgnored(t *testing.T) {
	clean, d := respond.ParseDirectives("Ừ. [SAVE_MEMORY: ]")
	gt.Equal(t, clean, "Ừ.")
	gt.Nil(t, d.Memory)
}

func TestParseDirectivesUnknownTokenKept(t *testing.T) {
	clean, d := respond.ParseDirectives("mình thấy [ĐÓNG KHUNG] đẹp lắm [NOT_A_COMMAND]")
	gt.True(t, strings.Contains(clean, "[NOT_A_COMMAND]"))
	gt.Equal(t, d.UICommand, respond.UICommand(""))
}

func TestParseDirectivesAllAtOnce(t *testing.T) {
	raw := "Mình hiểu rồi. [OPEN_MICRO] [SAVE_MEMORY: sợ gọi điện thoại] [SWITCH_TO_NORMAL]"
	clean, d := respond.ParseDirectives(raw)
	gt.Equal(t, clean, "Mình hiểu rồi.")
	gt.Equal(t, d.UICommand, respond.UIOpenMicro)
	gt.Equal(t, d.ModeSwitch, model.ModeTalking)
	gt.Equal(t, d.Memory.Text, "sợ gọi điện thoại")
}

func TestGenerateUsesFirstBackend(t *testing.T) {
	primary := &mockBackend{name: "primary", reply: "Mình ở đây nè."}
	secondary := &mockBackend{name: "secondary", reply: "dự phòng"}
	orch := respond.New(primary, secondary)

	result := orch.Generate(context.Background(), &respond.Input{
		State:    model.StateIdle,
		ChatMode: model.ModeTalking,
		Message:  "hôm nay mệt quá",
	})

	gt.Equal(t, result.Reply, "Mình ở đây nè.")
	gt.Equal(t, result.Backend, "primary")
	gt.False(t, result.Degraded)
	gt.Equal(t, secondary.calls, 0)
}

func TestGenerateFallsThroughOnError(t *testing.T) {
	primary := &mockBackend{name: "primary", err: errors.New("rate limited")}
	secondary := &mockBackend{name: "secondary", reply: "mình nghe cậu nè"}
	orch := respond.New(primary, secondary)

	result := orch.Generate(context.Background(), &respond.Input{Message: "chào cậu"})

	gt.Equal(t, result.Reply, "mình nghe cậu nè")
	gt.Equal(t, result.Backend, "secondary")
	gt.Equal(t, primary.calls, 1)
	gt.Equal(t, secondary.calls, 1)
}

func TestGenerateFallsThroughOnEmptyReply(t *testing.T) {
	primary := &mockBackend{name: "primary", reply: "[OPEN_RELAX]"}
	secondary := &mockBackend{name: "secondary", reply: "thở cùng mình nhé"}
	orch := respond.New(primary, secondary)

	result := orch.Generate(context.Background(), &respond.Input{Message: "tim đập nhanh quá"})

	gt.Equal(t, result.Reply, "thở cùng mình nhé")
	gt.Equal(t, result.Backend, "secondary")
}

func TestGenerateDegradedWhenChainExhausted(t *testing.T) {
	first := &mockBackend{name: "first", err: errors.New("unreachable")}
	second := &mockBackend{name: "second", err: errors.New("timeout")}
	orch := respond.New(first, second)

	result := orch.Generate(context.Background(), &respond.Input{Message: "cậu ơi"})

	gt.True(t, result.Degraded)
	gt.Equal(t, result.Reply, respond.DegradedReply)
	gt.Equal(t, first.calls, 1)
	gt.Equal(t, second.calls, 1)
}

func TestGenerateWindowsHistory(t *testing.T) {
	backend := &mockBackend{name: "only", reply: "ừ"}
	orch := respond.New(backend)

	history := make([]model.Turn, 0, 20)
	for i := 0; i < 20; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		history = append(history, model.Turn{Role: role, Content: "turn"})
	}

	orch.Generate(context.Background(), &respond.Input{History: history, Message: "bây giờ"})

	gt.NotNil(t, backend.lastReq)
	gt.Equal(t, len(backend.lastReq.Messages), respond.HistoryWindow+1)
	gt.Equal(t, backend.lastReq.Messages[respond.HistoryWindow].Content, "bây giờ")
}

func TestGeneratePromptCarriesProfileAndMemories(t *testing.T) {
	backend := &mockBackend{name: "only", reply: "ừ mình nhớ mà"}
	orch := respond.New(backend)

	orch.Generate(context.Background(), &respond.Input{
		Profile: &model.Profile{
			DisplayName:    "Linh",
			Persona:        "Nói chuyện kiểu chị gái lớn, điềm đạm và thẳng thắn.",
			CoreMemory:     "Sinh viên năm cuối, đang làm đồ án tốt nghiệp.",
			TopicBlacklist: []string{"điểm số"},
		},
		State:    model.StatePanic,
		ChatMode: model.ModeTalking,
		Memories: []string{"Từng kể là hay mất ngủ trước deadline"},
		Message:  "lại không ngủ được",
	})

	system := backend.lastReq.System
	gt.True(t, strings.Contains(system, "Linh"))
	gt.True(t, strings.Contains(system, "chị gái lớn"))
	gt.True(t, strings.Contains(system, "đồ án tốt nghiệp"))
	gt.True(t, strings.Contains(system, "điểm số"))
	gt.True(t, strings.Contains(system, "mất ngủ trước deadline"))
	gt.True(t, strings.Contains(system, "hoảng loạn"))
}
