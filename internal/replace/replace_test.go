package replace

import (
	"os"
	"path/filepath"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestApplyToMessagesSimpleReplace(t *testing.T) {
	s := &Settings{AdditionalReplacement: []Item{
		{Role: "system", Pattern: `\bVerbose Mode\b`, Replace: strPtr("Quiet Mode")},
	}}
	messages := []any{
		map[string]any{"role": "system", "content": "Enable Verbose Mode now."},
		map[string]any{"role": "user", "content": "Verbose Mode stays here."},
	}

	out, _ := ApplyToMessages(messages, s)

	if got := out[0].(map[string]any)["content"].(string); got != "Enable Quiet Mode now." {
		t.Errorf("system content: %q", got)
	}
	// Role mismatch leaves the user turn alone.
	if got := out[1].(map[string]any)["content"].(string); got != "Verbose Mode stays here." {
		t.Errorf("user content: %q", got)
	}
	// Input untouched.
	if messages[0].(map[string]any)["content"] != "Enable Verbose Mode now." {
		t.Error("input mutated")
	}
}

func TestApplyToMessagesContentParts(t *testing.T) {
	s := &Settings{AdditionalReplacement: []Item{
		{Role: "user", Pattern: "foo", Replace: strPtr("bar")},
	}}
	messages := []any{
		map[string]any{"role": "user", "content": []any{
			map[string]any{"type": "text", "text": "foo here"},
			map[string]any{"type": "image_url", "image_url": map[string]any{"url": "x"}},
		}},
	}
	out, _ := ApplyToMessages(messages, s)
	parts := out[0].(map[string]any)["content"].([]any)
	if got := parts[0].(map[string]any)["text"].(string); got != "bar here" {
		t.Errorf("text part: %q", got)
	}
}

func TestCaptureAndRef(t *testing.T) {
	s := &Settings{AdditionalReplacement: []Item{
		{Name: "grab-task", Role: "user", Pattern: `task id (?P<task>\w+)`},
		{Name: "redact", Role: "completion", Pattern: `{task}`, Replace: strPtr("[task]"), Ref: []string{"user"}},
	}}
	messages := []any{
		map[string]any{"role": "user", "content": "work on task id T123 please"},
	}

	_, applyCompletion := ApplyToMessages(messages, s)
	if got := applyCompletion("finished T123 just now"); got != "finished [task] just now" {
		t.Errorf("completion: %q", got)
	}
}

func TestTriggerGatesRule(t *testing.T) {
	s := &Settings{AdditionalReplacement: []Item{
		{Role: "user", Pattern: `mode=(?P<mode>\w+)`},
		{Role: "completion", Trigger: "mode", Pattern: "secret", Replace: strPtr("[hidden]")},
	}}

	// Without the capture the triggered rule never runs.
	_, apply1 := ApplyToMessages([]any{
		map[string]any{"role": "user", "content": "nothing to capture"},
	}, s)
	if got := apply1("the secret stays"); got != "the secret stays" {
		t.Errorf("untriggered: %q", got)
	}

	_, apply2 := ApplyToMessages([]any{
		map[string]any{"role": "user", "content": "mode=safe"},
	}, s)
	if got := apply2("the secret goes"); got != "the [hidden] goes" {
		t.Errorf("triggered: %q", got)
	}
}

func TestCapturesResetWhenRoleSpeaksAgain(t *testing.T) {
	s := &Settings{AdditionalReplacement: []Item{
		{Role: "user", Pattern: `id (?P<id>\w+)`},
		{Role: "completion", Pattern: `{id}`, Replace: strPtr("[id]"), Ref: []string{"user"}},
	}}
	messages := []any{
		map[string]any{"role": "user", "content": "id AAA"},
		map[string]any{"role": "user", "content": "no capture here"},
	}
	_, applyCompletion := ApplyToMessages(messages, s)
	// The second user turn cleared the capture, so the ref rule declines.
	if got := applyCompletion("AAA survives"); got != "AAA survives" {
		t.Errorf("completion: %q", got)
	}
}

func TestRefValuesAreQuoted(t *testing.T) {
	s := &Settings{AdditionalReplacement: []Item{
		{Role: "user", Pattern: `path (?P<p>\S+)`},
		{Role: "completion", Pattern: `{p}`, Replace: strPtr("[path]"), Ref: []string{"user"}},
	}}
	_, applyCompletion := ApplyToMessages([]any{
		map[string]any{"role": "user", "content": "path a.b(c)"},
	}, s)
	if got := applyCompletion("see a.b(c) here"); got != "see [path] here" {
		t.Errorf("completion: %q", got)
	}
	// The dot must not match arbitrary characters.
	if got := applyCompletion("see aXb(c) here"); got != "see aXb(c) here" {
		t.Errorf("unquoted metachar: %q", got)
	}
}

func TestInvalidPatternSkipped(t *testing.T) {
	s := &Settings{AdditionalReplacement: []Item{
		{Role: "user", Pattern: `([`, Replace: strPtr("x")},
		{Role: "user", Pattern: `b`, Replace: strPtr("B")},
	}}
	out, _ := ApplyToMessages([]any{
		map[string]any{"role": "user", "content": "abc"},
	}, s)
	if got := out[0].(map[string]any)["content"].(string); got != "aBc" {
		t.Errorf("content: %q", got)
	}
}

func TestLoadSettingsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "setting.yaml")
	yaml := `additional_replacement:
  - name: test-rule
    role: system
    pattern: "foo"
    replace: "bar"
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	s := LoadSettings(path)
	if len(s.AdditionalReplacement) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(s.AdditionalReplacement))
	}
	rule := s.AdditionalReplacement[0]
	if rule.Role != "system" || rule.Pattern != "foo" {
		t.Errorf("rule: %+v", rule)
	}
	if rule.Replace == nil || *rule.Replace != "bar" {
		t.Errorf("replace: %v", rule.Replace)
	}

	// Cached per path.
	if LoadSettings(path) != s {
		t.Error("settings not cached")
	}
}

func TestLoadSettingsMissingFile(t *testing.T) {
	s := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml"))
	if len(s.AdditionalReplacement) != 0 {
		t.Errorf("expected empty settings, got %+v", s)
	}
}

func TestApplyToMessagesEmptySettings(t *testing.T) {
	messages := []any{
		map[string]any{"role": "user", "content": "untouched"},
	}
	out, applyCompletion := ApplyToMessages(messages, &Settings{})
	if got := out[0].(map[string]any)["content"].(string); got != "untouched" {
		t.Errorf("content: %q", got)
	}
	if got := applyCompletion("also untouched"); got != "also untouched" {
		t.Errorf("completion: %q", got)
	}
}
