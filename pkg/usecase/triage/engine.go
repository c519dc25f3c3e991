// Package triage classifies the risk/affect profile of inbound messages.
//
// A local pattern pre-filter decides the life-safety path on its own: when
// it fires, the verdict is HIGH with no external call, because added
// latency there buys nothing and the signal is unambiguous. Everything
// else goes to the classifier model with a fixed ordinal decision
// procedure.
package triage

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/veranda-app/veranda/pkg/adapter"
	"github.com/veranda-app/veranda/pkg/model"
	"github.com/veranda-app/veranda/pkg/utils/logging"
	"google.golang.org/genai"
)

//go:embed prompt/classify.md
var classifyPromptRaw string

var classifyPromptTmpl = template.Must(template.New("classify").Parse(classifyPromptRaw))

// Engine produces a TriageVerdict per inbound message.
type Engine struct {
	gemini   adapter.Gemini
	patterns *patternTable
}

// New creates a triage engine backed by the given classifier client.
func New(gemini adapter.Gemini) (*Engine, error) {
	patterns, err := loadPatterns(patternsRaw)
	if err != nil {
		return nil, err
	}

	return &Engine{
		gemini:   gemini,
		patterns: patterns,
	}, nil
}

// crisisVerdict is returned on a pre-filter hit. It is final: no
// downstream failure may soften it.
func crisisVerdict() *model.TriageVerdict {
	return &model.TriageVerdict{
		Risk:    model.RiskHigh,
		Valence: -1,
		Arousal: 1,
		Emotion: "tuyệt vọng",
		Somatic: model.StatePanic,
	}
}

// defaultVerdict is the conservative fallback when the classifier is
// unreachable or returns garbage: the turn continues rather than blocks.
func defaultVerdict() *model.TriageVerdict {
	return &model.TriageVerdict{
		Risk:    model.RiskLow,
		Valence: 0,
		Arousal: 0.5,
		Emotion: "",
		Somatic: model.StateIdle,
	}
}

// Classify returns the verdict for one inbound message. It never fails:
// classifier errors degrade to the default verdict and are only logged.
func (e *Engine) Classify(ctx context.Context, text string) *model.TriageVerdict {
	if e.patterns.match(text) {
		logging.From(ctx).Warn("crisis pre-filter fired", "message", logging.Trunc(text))
		return crisisVerdict()
	}

	// The sigh button is a gesture, not a disclosure.
	if text == model.SighSignal {
		return &model.TriageVerdict{
			Risk:    model.RiskSafe,
			Valence: -0.2,
			Arousal: 0.3,
			Emotion: "mệt mỏi",
			Somatic: model.StateIdle,
		}
	}

	verdict, err := e.classifyRemote(ctx, text)
	if err != nil {
		logging.From(ctx).Warn("classifier degraded to default verdict", "error", err)
		return defaultVerdict()
	}
	return verdict
}

func (e *Engine) classifyRemote(ctx context.Context, text string) (*model.TriageVerdict, error) {
	var buf bytes.Buffer
	if err := classifyPromptTmpl.Execute(&buf, map[string]any{
		"Message": text,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to execute classify prompt template")
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
				"risk": {
					Type:        genai.TypeString,
					Description: "Risk level per the ordered decision procedure",
					Enum:        []string{"HIGH", "MEDIUM", "LOW", "SAFE"},
				},
				"valence": {
					Type:        genai.TypeNumber,
					Description: "Emotional tone from -1 to 1",
				},
				"arousal": {
					Type:        genai.TypeNumber,
					Description: "Nervous-system activation from 0 to 1",
				},
				"emotion": {
					Type:        genai.TypeString,
					Description: "Short emotion label",
				},
				"somatic": {
					Type:        genai.TypeString,
					Description: "Inferred body state",
					Enum:        []string{"FREEZE", "PANIC", "REGULATED", "IDLE"},
				},
			},
			Required: []string{"risk", "valence", "arousal", "emotion", "somatic"},
		},
	}

	contents := []*genai.Content{
		genai.NewContentFromText(buf.String(), genai.RoleUser),
	}

	resp, err := e.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to classify message")
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, goerr.New("invalid response structure from classifier")
	}

	rawJSON := resp.Candidates[0].Content.Parts[0].Text

	var verdictData struct {
		Risk    string  `json:"risk"`
		Valence float64 `json:"valence"`
		Arousal float64 `json:"arousal"`
		Emotion string  `json:"emotion"`
		Somatic string  `json:"somatic"`
	}
	if err := json.Unmarshal([]byte(rawJSON), &verdictData); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal verdict JSON", goerr.V("json", rawJSON))
	}

	verdict := &model.TriageVerdict{
		Risk:    model.Risk(verdictData.Risk),
		Valence: clamp(verdictData.Valence, -1, 1),
		Arousal: clamp(verdictData.Arousal, 0, 1),
		Emotion: verdictData.Emotion,
		Somatic: model.MentalState(verdictData.Somatic),
	}
	if !verdict.Risk.Valid() {
		return nil, goerr.New("classifier returned unknown risk", goerr.V("risk", verdictData.Risk))
	}
	if !verdict.Somatic.Valid() {
		verdict.Somatic = model.StateIdle
	}

	return verdict, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
