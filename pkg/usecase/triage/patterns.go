package triage

import (
	_ "embed"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

//go:embed patterns.yml
var patternsRaw []byte

// patternTable is the local crisis pre-filter: unambiguous self-harm
// phrases plus the idioms that would otherwise false-positive on them.
type patternTable struct {
	Crisis     []string `yaml:"crisis"`
	Exclusions []string `yaml:"exclusions"`
}

func loadPatterns(raw []byte) (*patternTable, error) {
	var table patternTable
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return nil, goerr.Wrap(err, "failed to parse pattern table")
	}
	if len(table.Crisis) == 0 {
		return nil, goerr.New("pattern table has no crisis entries")
	}

	for i, p := range table.Crisis {
		table.Crisis[i] = strings.ToLower(p)
	}
	for i, p := range table.Exclusions {
		table.Exclusions[i] = strings.ToLower(p)
	}
	return &table, nil
}

// match reports whether text contains a crisis phrase outside of any
// exclusion idiom. Exclusion spans are masked before the crisis scan so a
// phrase inside "cười muốn chết" can never fire.
func (t *patternTable) match(text string) bool {
	lowered := strings.ToLower(text)

	for _, exclusion := range t.Exclusions {
		for {
			idx := strings.Index(lowered, exclusion)
			if idx < 0 {
				break
			}
			lowered = lowered[:idx] + strings.Repeat(" ", len(exclusion)) + lowered[idx+len(exclusion):]
		}
	}

	for _, crisis := range t.Crisis {
		if strings.Contains(lowered, crisis) {
			return true
		}
	}
	return false
}
