package respond

import (
	"bytes"
	_ "embed"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/veranda-app/veranda/pkg/model"
)

//go:embed prompt/persona.md
var personaPrompt string

var personaTmpl = template.Must(template.New("persona").Parse(personaPrompt))

// stateDirectives translates the conversation's mental state into a
// concrete instruction for the model. Unknown states render nothing.
var stateDirectives = map[model.MentalState]string{
	model.StateFreeze: "Cậu ấy đang tê liệt, thu mình lại, khó nói thành lời. Đừng hỏi dồn, đừng yêu cầu gì cả. Nói thật chậm, thật ngắn, và cho cậu ấy biết im lặng cũng không sao.",
	model.StatePanic: "Cậu ấy đang hoảng loạn. Câu trả lời phải thật ngắn, từng câu một, tập trung kéo cậu ấy về hiện tại: hơi thở, những thứ nhìn thấy xung quanh. Không phân tích, không hỏi về nguyên nhân.",
	model.StateRegulated: "Cậu ấy vừa qua một cơn hoảng loạn và đang dần bình tĩnh lại. Ghi nhận điều đó một cách nhẹ nhàng, đừng nhắc lại chi tiết cơn hoảng loạn trừ khi cậu ấy tự nhắc.",
}

var modeDirectives = map[model.ChatMode]string{
	model.ModeListening: "Chế độ lắng nghe: cậu ấy chỉ muốn trút ra, không muốn đối thoại. Phản hồi tối thiểu, một hai câu ngắn ghi nhận cảm xúc là đủ. Không hỏi lại, không gợi ý gì.",
	model.ModeTalking:   "",
}

// Directive is everything the persona prompt needs for one turn.
type Directive struct {
	DisplayName    string
	Persona        string
	ModeDirective  string
	StateDirective string
	CoreMemory     string
	Memories       []string
	TopicBlacklist []string
}

// BuildDirective assembles the system prompt inputs from the profile,
// the current mental state, and the retrieved memories.
func BuildDirective(profile *model.Profile, state model.MentalState, mode model.ChatMode, memories []string) Directive {
	d := Directive{
		ModeDirective:  modeDirectives[mode],
		StateDirective: stateDirectives[state],
		Memories:       memories,
	}
	if profile != nil {
		d.DisplayName = profile.DisplayName
		d.Persona = profile.Persona
		d.CoreMemory = profile.CoreMemory
		d.TopicBlacklist = profile.TopicBlacklist
	}
	return d
}

// Render produces the system prompt for this turn.
func (d Directive) Render() (string, error) {
	var buf bytes.Buffer
	if err := personaTmpl.Execute(&buf, d); err != nil {
		return "", goerr.Wrap(err, "failed to render persona prompt")
	}
	return buf.String(), nil
}
