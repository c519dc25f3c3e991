// Package guard screens generated replies before they are stored or
// delivered. Most replies are clean and never leave the process: a local
// term scan short-circuits to SAFE, and only flagged text is escalated to
// the classifier for a contextual verdict.
package guard

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/veranda-app/veranda/pkg/adapter"
	"github.com/veranda-app/veranda/pkg/utils/logging"
	"google.golang.org/genai"
)

// Verdict is the screening result for one generated reply.
type Verdict string

const (
	VerdictSafe    Verdict = "SAFE"
	VerdictWarning Verdict = "WARNING"
	VerdictDanger  Verdict = "DANGER"
)

// FallbackReply replaces a DANGER reply. The original text is never
// persisted or forwarded.
const FallbackReply = "Mình đang ở đây với cậu. Điều cậu vừa chia sẻ rất quan trọng, " +
	"và cậu xứng đáng được lắng nghe đúng cách. ... Nếu mọi thứ đang quá sức, " +
	"cậu hãy gọi cho một người cậu tin, hoặc một đường dây hỗ trợ tâm lý, ngay bây giờ nhé. " +
	"Mình vẫn ngồi đây với cậu."

// Postscript is appended to a WARNING reply.
const Postscript = "\n\nNếu cảm giác này trở nên quá sức, cậu đừng ở một mình nhé. " +
	"Hãy gọi cho một người cậu tin, hoặc một đường dây hỗ trợ tâm lý, bất cứ lúc nào."

// flaggedTerms is the cheap pre-filter. Anything here in a generated
// reply forces a contextual review; absence means the reply ships as-is.
var flaggedTerms = []string{
	"tự tử",
	"tự sát",
	"muốn chết",
	"kết thúc cuộc đời",
	"tự làm đau",
	"làm hại bản thân",
	"suicide",
	"kill yourself",
	"self-harm",
	"hurt yourself",
	"end your life",
}

//go:embed prompt/screen.md
var screenPromptRaw string

var screenPromptTmpl = template.Must(template.New("screen").Parse(screenPromptRaw))

// Guard screens generated text for unsafe content.
type Guard struct {
	gemini adapter.Gemini
}

// New creates an output guard backed by the given classifier client.
func New(gemini adapter.Gemini) *Guard {
	return &Guard{gemini: gemini}
}

// Screen classifies the reply. It never fails: classifier errors on this
// path fail open to SAFE, since the pre-filter already caught the
// low-hanging cases and blocking a reply on a transient fault costs more
// than the residual risk.
func (g *Guard) Screen(ctx context.Context, text string) Verdict {
	if !flagged(text) {
		return VerdictSafe
	}

	verdict, err := g.screenRemote(ctx, text)
	if err != nil {
		logging.From(ctx).Warn("output guard degraded to SAFE", "error", err)
		return VerdictSafe
	}

	if verdict != VerdictSafe {
		logging.From(ctx).Warn("output guard verdict", "verdict", verdict, "reply", logging.Trunc(text))
	}
	return verdict
}

func flagged(text string) bool {
	lowered := strings.ToLower(text)
	for _, term := range flaggedTerms {
		if strings.Contains(lowered, term) {
			return true
		}
	}
	return false
}

func (g *Guard) screenRemote(ctx context.Context, text string) (Verdict, error) {
	var buf bytes.Buffer
	if err := screenPromptTmpl.Execute(&buf, map[string]any{
		"Reply": text,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute screen prompt template")
	}

	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"verdict": {
					Type:        genai.TypeString,
					Description: "Screening verdict for the drafted reply",
					Enum:        []string{"SAFE", "WARNING", "DANGER"},
				},
			},
			Required: []string{"verdict"},
		},
	}

	contents := []*genai.Content{
		genai.NewContentFromText(buf.String(), genai.RoleUser),
	}

	resp, err := g.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return "", goerr.Wrap(err, "failed to screen reply")
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", goerr.New("invalid response structure from guard classifier")
	}

	rawJSON := resp.Candidates[0].Content.Parts[0].Text

	var verdictData struct {
		Verdict string `json:"verdict"`
	}
	if err := json.Unmarshal([]byte(rawJSON), &verdictData); err != nil {
		return "", goerr.Wrap(err, "failed to unmarshal guard verdict", goerr.V("json", rawJSON))
	}

	switch Verdict(verdictData.Verdict) {
	case VerdictSafe, VerdictWarning, VerdictDanger:
		return Verdict(verdictData.Verdict), nil
	default:
		return "", goerr.New("guard returned unknown verdict", goerr.V("verdict", verdictData.Verdict))
	}
}
