package schema

import (
	"reflect"
	"testing"
)

func TestInferFlatTool(t *testing.T) {
	samples := []string{`<read_file>
<path>src/main.go</path>
<start_line>10</start_line>
</read_file>`}
	descs := map[string]string{"path": "File path", "start_line": "First line"}
	required := map[string]bool{"path": true}

	got := Infer(samples, descs, required)

	props, ok := got["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties: %v", got["properties"])
	}
	path, _ := props["path"].(map[string]any)
	if path["type"] != "string" || path["description"] != "File path" {
		t.Errorf("path schema: %v", path)
	}
	req, _ := got["required"].([]string)
	if !reflect.DeepEqual(req, []string{"path"}) {
		t.Errorf("required: %v", req)
	}
}

func TestInferRepeatedChildBecomesArray(t *testing.T) {
	samples := []string{`<read_file>
<args>
<file>
<path>a.go</path>
</file>
<file>
<path>b.go</path>
</file>
</args>
</read_file>`}
	required := map[string]bool{"args": true, "file": true, "path": true}

	got := Infer(samples, nil, required)
	props := got["properties"].(map[string]any)
	args := props["args"].(map[string]any)
	if args["type"] != "object" {
		t.Fatalf("args type: %v", args["type"])
	}
	file := args["properties"].(map[string]any)["file"].(map[string]any)
	if file["type"] != "array" {
		t.Fatalf("file should be an array: %v", file)
	}
	item := file["items"].(map[string]any)
	if item["type"] != "object" {
		t.Errorf("item type: %v", item["type"])
	}
	path := item["properties"].(map[string]any)["path"].(map[string]any)
	if path["type"] != "string" {
		t.Errorf("path type: %v", path["type"])
	}
}

func TestInferRequiredNeedsAllSamples(t *testing.T) {
	samples := []string{
		"<t><a>1</a><b>2</b></t>",
		"<t><a>1</a></t>",
	}
	required := map[string]bool{"a": true, "b": true}

	got := Infer(samples, nil, required)
	req := got["required"].([]string)
	if !reflect.DeepEqual(req, []string{"a"}) {
		t.Errorf("required: %v", req)
	}
	// b is still a property even though only one sample shows it.
	if _, ok := got["properties"].(map[string]any)["b"]; !ok {
		t.Error("b missing from properties")
	}
}

func TestInferAttributesUseValueConvention(t *testing.T) {
	samples := []string{`<write><line number="3">text</line></write>`}
	required := map[string]bool{"line": true}

	got := Infer(samples, nil, required)
	line := got["properties"].(map[string]any)["line"].(map[string]any)
	if line["type"] != "object" {
		t.Fatalf("line type: %v", line["type"])
	}
	props := line["properties"].(map[string]any)
	if v, _ := props["value"].(map[string]any); v["type"] != "string" {
		t.Errorf("value property: %v", props["value"])
	}
	if n, _ := props["number"].(map[string]any); n["type"] != "string" {
		t.Errorf("number property: %v", props["number"])
	}
	if req := line["required"].([]string); !reflect.DeepEqual(req, []string{"value"}) {
		t.Errorf("line required: %v", req)
	}
}

func TestInferNoUsableSamples(t *testing.T) {
	got := Infer([]string{"<broken"}, nil, nil)
	if !reflect.DeepEqual(got, EmptyObject()) {
		t.Errorf("expected empty object schema, got %v", got)
	}
	got = Infer(nil, nil, nil)
	if !reflect.DeepEqual(got, EmptyObject()) {
		t.Errorf("expected empty object schema for nil samples, got %v", got)
	}
}

func TestParseSampleTolerance(t *testing.T) {
	// Pseudo-tags inside parentheses and a raw ampersand both appear in the
	// wild; the sample still has to parse.
	sample := `<search>
<query>foo & bar (use <regex> syntax)</query>
</search>`
	root, err := ParseSample(sample)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if root.Tag != "search" {
		t.Errorf("root tag: %q", root.Tag)
	}
}

func TestDedent(t *testing.T) {
	in := "    <x>\n      <y>1</y>\n    </x>"
	got := dedent(in)
	want := "<x>\n  <y>1</y>\n</x>"
	if got != want {
		t.Errorf("dedent: got %q want %q", got, want)
	}
}
