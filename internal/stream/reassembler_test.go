package stream

import (
	"fmt"
	"testing"

	"github.com/tidwall/gjson"
)

func testRender(name, arguments, id, reasoning string) (string, bool) {
	if name == "unknown_tool" {
		return "", false
	}
	xml := fmt.Sprintf("<%s>%s<id>%s</id></%s>", name, arguments, id, name)
	if reasoning != "" {
		xml = "<think>\n" + reasoning + "\n</think>\n" + xml
	}
	return xml, true
}

func collect(r *Reassembler, events ...string) []string {
	var out []string
	for _, e := range events {
		for _, b := range r.Process([]byte(e)) {
			out = append(out, string(b))
		}
	}
	for _, b := range r.Finish() {
		out = append(out, string(b))
	}
	return out
}

func TestReassemblerPassthrough(t *testing.T) {
	r := NewReassembler(testRender)
	out := collect(r,
		`{"choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	)
	if len(out) != 2 {
		t.Fatalf("expected 2 events, got %d: %v", len(out), out)
	}
	if gjson.Get(out[0], "choices.0.delta.content").String() != "Hi" {
		t.Errorf("content event altered: %s", out[0])
	}
	if gjson.Get(out[1], "choices.0.finish_reason").String() != "stop" {
		t.Errorf("finish event altered: %s", out[1])
	}
}

func TestReassemblerToolCallFragments(t *testing.T) {
	r := NewReassembler(testRender)

	frag1 := `{"choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","function":{"name":"read_file","arguments":""}}]}}]}`
	frag2 := `{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"path\":"}}]}}]}`
	frag3 := `{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"a.go\"}"}}]}}]}`
	finish := `{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`

	if got := r.Process([]byte(frag1)); got != nil {
		t.Fatalf("fragment forwarded: %v", got)
	}
	if got := r.Process([]byte(frag2)); got != nil {
		t.Fatalf("fragment forwarded: %v", got)
	}
	if got := r.Process([]byte(frag3)); got != nil {
		t.Fatalf("fragment forwarded: %v", got)
	}

	out := r.Process([]byte(finish))
	if len(out) != 2 {
		t.Fatalf("expected flush + finish, got %d: %v", len(out), toStrings(out))
	}

	content := gjson.GetBytes(out[0], "choices.0.delta.content").String()
	want := `<read_file>{"path":"a.go"}<id>call_1</id></read_file>`
	if content != want {
		t.Errorf("rendered content:\ngot  %q\nwant %q", content, want)
	}
	if gjson.GetBytes(out[0], "choices.0.delta.tool_calls").Exists() {
		t.Errorf("tool_calls left in flushed event: %s", out[0])
	}
	if gjson.GetBytes(out[0], "choices.0.finish_reason").Type != gjson.Null {
		t.Errorf("flushed event carries a finish reason: %s", out[0])
	}

	if gjson.GetBytes(out[1], "choices.0.finish_reason").String() != "stop" {
		t.Errorf("finish reason not rewritten: %s", out[1])
	}

	if extra := r.Finish(); extra != nil {
		t.Errorf("unexpected trailing flush: %v", toStrings(extra))
	}
}

func TestReassemblerFinishCarriesToolDelta(t *testing.T) {
	// Some upstreams pack the last argument fragment and the finish reason
	// into one event.
	r := NewReassembler(testRender)

	frag := `{"choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"c1","function":{"name":"read_file","arguments":"{}"}}]}}]}`
	last := `{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":""}}]},"finish_reason":"tool_calls"}]}`

	r.Process([]byte(frag))
	out := r.Process([]byte(last))
	if len(out) != 2 {
		t.Fatalf("expected flush + finish, got %d", len(out))
	}
	if gjson.GetBytes(out[1], "choices.0.delta.tool_calls").Exists() {
		t.Errorf("consumed tool delta forwarded: %s", out[1])
	}
	if gjson.GetBytes(out[1], "choices.0.finish_reason").String() != "stop" {
		t.Errorf("finish reason: %s", out[1])
	}
}

func TestReassemblerParallelCalls(t *testing.T) {
	r := NewReassembler(testRender)

	first := `{"choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"c1","function":{"name":"read_file","arguments":"{\"path\":\"a\"}"}}]}}]}`
	second := `{"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"c2","function":{"name":"read_file","arguments":"{\"path\":\"b\"}"}}]}}]}`
	finish := `{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`

	var out [][]byte
	out = append(out, r.Process([]byte(first))...)
	out = append(out, r.Process([]byte(second))...)
	out = append(out, r.Process([]byte(finish))...)

	if len(out) != 3 {
		t.Fatalf("expected 2 flushes + finish, got %d: %v", len(out), toStrings(out))
	}
	if got := gjson.GetBytes(out[0], "choices.0.delta.content").String(); got != `<read_file>{"path":"a"}<id>c1</id></read_file>` {
		t.Errorf("first call: %q", got)
	}
	if got := gjson.GetBytes(out[1], "choices.0.delta.content").String(); got != `<read_file>{"path":"b"}<id>c2</id></read_file>` {
		t.Errorf("second call: %q", got)
	}
}

func TestReassemblerChoiceChangeSplitsCalls(t *testing.T) {
	// A tool delta arriving under a different choice index closes the
	// buffered call before the new one starts accumulating.
	r := NewReassembler(testRender)

	first := `{"choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"c1","function":{"name":"read_file","arguments":"{\"path\":\"a\"}"}}]}}]}`
	second := `{"choices":[{"index":1,"delta":{"tool_calls":[{"index":0,"id":"c2","function":{"name":"read_file","arguments":"{\"path\":\"b\"}"}}]}}]}`

	if got := r.Process([]byte(first)); got != nil {
		t.Fatalf("first fragment forwarded: %v", toStrings(got))
	}
	out := r.Process([]byte(second))
	if len(out) != 1 {
		t.Fatalf("expected the first call flushed, got %d: %v", len(out), toStrings(out))
	}
	if got := gjson.GetBytes(out[0], "choices.0.delta.content").String(); got != `<read_file>{"path":"a"}<id>c1</id></read_file>` {
		t.Errorf("first call: %q", got)
	}

	out = r.Finish()
	if len(out) != 1 {
		t.Fatalf("expected the second call flushed, got %d: %v", len(out), toStrings(out))
	}
	if got := gjson.GetBytes(out[0], "choices.0.delta.content").String(); got != `<read_file>{"path":"b"}<id>c2</id></read_file>` {
		t.Errorf("second call: %q", got)
	}
	if gjson.GetBytes(out[0], "choices.0.index").Int() != 1 {
		t.Errorf("second flush lost its choice index: %s", out[0])
	}
}

func TestReassemblerRoleChangeStripsToolDelta(t *testing.T) {
	// A role change flushes the buffered call, and a tool fragment arriving
	// under the new role is never forwarded as a native delta.
	r := NewReassembler(testRender)

	frag := `{"choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"c1","function":{"name":"read_file","arguments":"{}"}}]}}]}`
	odd := `{"choices":[{"index":0,"delta":{"role":"user","tool_calls":[{"index":0,"id":"x","function":{"name":"read_file","arguments":"{}"}}]}}]}`

	r.Process([]byte(frag))
	out := r.Process([]byte(odd))
	if len(out) != 2 {
		t.Fatalf("expected flush + forwarded event, got %d: %v", len(out), toStrings(out))
	}
	if got := gjson.GetBytes(out[0], "choices.0.delta.content").String(); got != `<read_file>{}<id>c1</id></read_file>` {
		t.Errorf("flushed call: %q", got)
	}
	if gjson.GetBytes(out[1], "choices.0.delta.tool_calls").Exists() {
		t.Errorf("native fragment reached the client: %s", out[1])
	}
}

func TestReassemblerUnknownToolDropped(t *testing.T) {
	r := NewReassembler(testRender)

	frag := `{"choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"c1","function":{"name":"unknown_tool","arguments":"{}"}}]}}]}`
	finish := `{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`

	r.Process([]byte(frag))
	out := r.Process([]byte(finish))
	if len(out) != 1 {
		t.Fatalf("expected only the finish event, got %d: %v", len(out), toStrings(out))
	}
	if gjson.GetBytes(out[0], "choices.0.finish_reason").String() != "stop" {
		t.Errorf("finish event: %s", out[0])
	}
}

func TestReassemblerReasoningFoldedIntoCall(t *testing.T) {
	r := NewReassembler(testRender)

	think1 := `{"choices":[{"index":0,"delta":{"role":"assistant","reasoning_content":"let me "}}]}`
	think2 := `{"choices":[{"index":0,"delta":{"reasoning_content":"check"}}]}`
	frag := `{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"read_file","arguments":"{}"}}]}}]}`
	finish := `{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`

	if got := r.Process([]byte(think1)); got != nil {
		t.Fatalf("reasoning event forwarded: %v", toStrings(got))
	}
	r.Process([]byte(think2))
	r.Process([]byte(frag))
	out := r.Process([]byte(finish))
	if len(out) != 2 {
		t.Fatalf("expected flush + finish, got %d", len(out))
	}
	content := gjson.GetBytes(out[0], "choices.0.delta.content").String()
	if content != "<think>\nlet me check\n</think>\n<read_file>{}<id>c1</id></read_file>" {
		t.Errorf("content: %q", content)
	}
}

func TestReassemblerReasoningOnlyStream(t *testing.T) {
	r := NewReassembler(testRender)

	out := collect(r,
		`{"choices":[{"index":0,"delta":{"role":"assistant","reasoning_content":"thinking"}}]}`,
	)
	if len(out) != 1 {
		t.Fatalf("expected 1 flushed event, got %d: %v", len(out), out)
	}
	if got := gjson.Get(out[0], "choices.0.delta.content").String(); got != "<think>\nthinking\n</think>\n" {
		t.Errorf("content: %q", got)
	}
	if gjson.Get(out[0], "choices.0.delta.reasoning_content").Exists() {
		t.Errorf("reasoning_content survived: %s", out[0])
	}
}

func TestReassemblerReasoningAlongsideContent(t *testing.T) {
	// An event carrying both reasoning and content forwards the content once;
	// the reasoning field is stripped and only surfaces later inside the
	// think block.
	r := NewReassembler(testRender)

	mixed := `{"choices":[{"index":0,"delta":{"role":"assistant","reasoning_content":"hm","content":"Hi"}}]}`
	out := r.Process([]byte(mixed))
	if len(out) != 1 {
		t.Fatalf("expected 1 forwarded event, got %d: %v", len(out), toStrings(out))
	}
	if got := gjson.GetBytes(out[0], "choices.0.delta.content").String(); got != "Hi" {
		t.Errorf("content: %q", got)
	}
	if gjson.GetBytes(out[0], "choices.0.delta.reasoning_content").Exists() {
		t.Errorf("reasoning delivered raw: %s", out[0])
	}

	frag := `{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"read_file","arguments":"{}"}}]}}]}`
	finish := `{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`
	r.Process([]byte(frag))
	out = r.Process([]byte(finish))
	if len(out) != 2 {
		t.Fatalf("expected flush + finish, got %d", len(out))
	}
	if got := gjson.GetBytes(out[0], "choices.0.delta.content").String(); got != "<think>\nhm\n</think>\n<read_file>{}<id>c1</id></read_file>" {
		t.Errorf("flushed content: %q", got)
	}
}

func TestReassemblerFinishFlushesPending(t *testing.T) {
	// Stream ends without a finish event; the buffered call still comes out.
	r := NewReassembler(testRender)
	frag := `{"choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"c1","function":{"name":"read_file","arguments":"{}"}}]}}]}`
	r.Process([]byte(frag))

	out := r.Finish()
	if len(out) != 1 {
		t.Fatalf("expected 1 flushed event, got %d", len(out))
	}
	if got := gjson.GetBytes(out[0], "choices.0.delta.content").String(); got != `<read_file>{}<id>c1</id></read_file>` {
		t.Errorf("content: %q", got)
	}
}

func toStrings(bs [][]byte) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = string(b)
	}
	return out
}
