package adapter

import (
	"testing"

	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

func TestBuildContentsRoleMapping(t *testing.T) {
	contents := buildContents([]Message{
		{Role: "user", Content: "chào cậu"},
		{Role: "assistant", Content: "mình đây"},
		{Role: "", Content: "còn đó không?"},
	})

	gt.Equal(t, len(contents), 3)
	gt.Equal(t, contents[0].Role, string(genai.RoleUser))
	gt.Equal(t, contents[1].Role, string(genai.RoleModel))
	gt.Equal(t, contents[2].Role, string(genai.RoleUser))
	gt.Equal(t, contents[1].Parts[0].Text, "mình đây")
}
