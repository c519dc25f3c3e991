package respond

import (
	"regexp"
	"strings"

	"github.com/veranda-app/veranda/pkg/model"
)

// UICommand is a client-side tool the model may open, from a fixed
// vocabulary. The model embeds at most one per reply; extras are ignored.
type UICommand string

const (
	UIOpenRelax UICommand = "OPEN_RELAX" // panic attack, breathing exercise
	UIOpenCBT   UICommand = "OPEN_CBT"   // thought-reframing tool
	UIOpenSOS   UICommand = "OPEN_SOS"   // crisis resources
	UIOpenJar   UICommand = "OPEN_JAR"   // small-joy jar
	UIOpenMicro UICommand = "OPEN_MICRO" // micro-action nudge
)

// MemoryKind selects where an extracted memory directive is written.
type MemoryKind string

const (
	// MemoryKindRecord appends a discrete record to the vector store.
	MemoryKindRecord MemoryKind = "record"
	// MemoryKindCoreUpdate replaces the profile's rolling context summary.
	MemoryKindCoreUpdate MemoryKind = "core"
)

// MemoryDirective is an instruction extracted from raw model output to
// store a fact about the user.
type MemoryDirective struct {
	Kind MemoryKind
	Text string
}

// Directives are the side effects parsed out of one raw reply.
type Directives struct {
	UICommand  UICommand      // "" when none
	ModeSwitch model.ChatMode // "" when none
	Memory     *MemoryDirective
}

// tokenRe matches every bracketed directive shape the model may emit:
// bare commands like [OPEN_RELAX] and payload directives like
// [SAVE_MEMORY: …]. One scan covers all shapes.
var tokenRe = regexp.MustCompile(`\[([A-Z_]+)(?::\s*([^\]]*))?\]`)

var uiCommands = map[string]UICommand{
	"OPEN_RELAX": UIOpenRelax,
	"OPEN_CBT":   UIOpenCBT,
	"OPEN_SOS":   UIOpenSOS,
	"OPEN_JAR":   UIOpenJar,
	"OPEN_MICRO": UIOpenMicro,
}

var modeSwitches = map[string]model.ChatMode{
	"SWITCH_TO_LISTEN": model.ModeListening,
	"SWITCH_TO_NORMAL": model.ModeTalking,
}

// ParseDirectives scans raw model output once, extracts the recognized
// directive tokens, and returns the visible reply with those tokens
// stripped. For every directive class the first occurrence wins and the
// rest are dropped. Unrecognized bracketed spans are left in place: they
// are the model's text, not ours to eat.
func ParseDirectives(raw string) (string, Directives) {
	var directives Directives

	clean := tokenRe.ReplaceAllStringFunc(raw, func(match string) string {
		groups := tokenRe.FindStringSubmatch(match)
		name, payload := groups[1], strings.TrimSpace(groups[2])

		if cmd, ok := uiCommands[name]; ok {
			if directives.UICommand == "" {
				directives.UICommand = cmd
			}
			return ""
		}
		if mode, ok := modeSwitches[name]; ok {
			if directives.ModeSwitch == "" {
				directives.ModeSwitch = mode
			}
			return ""
		}

		switch name {
		case "SAVE_MEMORY":
			if directives.Memory == nil && payload != "" {
				directives.Memory = &MemoryDirective{Kind: MemoryKindRecord, Text: payload}
			}
			return ""
		case "UPDATE_CONTEXT":
			if directives.Memory == nil && payload != "" {
				directives.Memory = &MemoryDirective{Kind: MemoryKindCoreUpdate, Text: payload}
			}
			return ""
		}

		return match
	})

	return tidy(clean), directives
}

var multiSpaceRe = regexp.MustCompile(` {2,}`)
var multiNewlineRe = regexp.MustCompile(`\n{3,}`)

// tidy removes the whitespace scars left by stripped tokens.
func tidy(text string) string {
	text = multiSpaceRe.ReplaceAllString(text, " ")
	text = multiNewlineRe.ReplaceAllString(text, "\n\n")
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
