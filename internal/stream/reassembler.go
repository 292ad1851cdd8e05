package stream

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// MaxToolArgBufSize is the upper bound (in bytes) for buffered tool-call
// argument deltas per stream.
const MaxToolArgBufSize = 1 << 20 // 1 MB

// RenderFunc renders one complete tool call as inline XML. ok=false drops
// the call from the output.
type RenderFunc func(name, arguments, id, reasoning string) (xml string, ok bool)

// Reassembler accumulates a streamed tool call across consecutive deltas and
// re-emits it as one inline-XML content event once complete. Events that do
// not carry tool-call deltas pass through; tool-call delta events are
// consumed into the buffer. One Reassembler serves exactly one stream and is
// driven sequentially in event arrival order.
type Reassembler struct {
	render RenderFunc

	name      string
	id        string
	args      string
	reasoning string

	role        string
	choiceIndex int64
	callIndex   int64
	lastEvent   []byte
}

// NewReassembler creates a Reassembler for one stream.
func NewReassembler(render RenderFunc) *Reassembler {
	return &Reassembler{render: render}
}

func (r *Reassembler) pending() bool {
	return r.name != "" || r.id != "" || r.args != ""
}

// Process consumes one upstream event payload and returns the payloads to
// forward downstream, in order. The input is never mutated.
func (r *Reassembler) Process(raw []byte) [][]byte {
	choice := gjson.GetBytes(raw, "choices.0")
	delta := choice.Get("delta")
	toolDelta := delta.Get("tool_calls.0")

	// Reasoning is folded into the next rendered block as think-tagged text,
	// so its deltas are consumed rather than forwarded.
	if rc := delta.Get("reasoning_content"); rc.Exists() && rc.String() != "" {
		r.reasoning += rc.String()
		if !toolDelta.Exists() && delta.Get("content").String() == "" && choice.Get("finish_reason").String() == "" {
			r.stick(choice, delta)
			r.lastEvent = cloneBytes(raw)
			return nil
		}
	}

	var out [][]byte

	roleChanged := delta.Get("role").Exists() && delta.Get("role").String() != r.role
	choiceChanged := !choice.Get("index").Exists() || choice.Get("index").Int() != r.choiceIndex
	if r.pending() && (!toolDelta.Exists() || roleChanged || choiceChanged) {
		out = append(out, r.flush()...)
	}
	r.stick(choice, delta)

	if r.role == "assistant" && toolDelta.Exists() {
		if idx := toolDelta.Get("index"); idx.Exists() && idx.Int() != r.callIndex {
			if r.pending() {
				out = append(out, r.flush()...)
			}
			r.callIndex = idx.Int()
		}
		// Fragments append, never replace.
		r.name += toolDelta.Get("function.name").String()
		if len(r.args)+len(toolDelta.Get("function.arguments").String()) <= MaxToolArgBufSize {
			r.args += toolDelta.Get("function.arguments").String()
		}
		r.id += toolDelta.Get("id").String()
		r.lastEvent = cloneBytes(raw)

		if choice.Get("finish_reason").String() != "" {
			out = append(out, r.flush()...)
			out = append(out, r.forwardable(raw, true))
		}
		return out
	}

	if choice.Get("finish_reason").String() != "" && r.pending() {
		out = append(out, r.flush()...)
	}
	return append(out, r.forwardable(raw, toolDelta.Exists()))
}

// Finish flushes any still-pending buffer at stream end, before the [DONE]
// sentinel is forwarded.
func (r *Reassembler) Finish() [][]byte {
	if !r.pending() && r.reasoning == "" {
		return nil
	}
	return r.flush()
}

// stick updates the sticky role and choice index from an event.
func (r *Reassembler) stick(choice, delta gjson.Result) {
	if role := delta.Get("role"); role.Exists() {
		r.role = role.String()
	}
	if idx := choice.Get("index"); idx.Exists() {
		r.choiceIndex = idx.Int()
	}
}

// flush renders the buffered call and splices it into the last buffered
// event's content, resetting all pending state.
func (r *Reassembler) flush() [][]byte {
	name, id, args, reasoning := r.name, r.id, r.args, r.reasoning
	r.name, r.id, r.args, r.reasoning = "", "", "", ""

	if r.lastEvent == nil {
		return nil
	}
	var rendered string
	if name != "" {
		xml, ok := r.render(name, args, id, reasoning)
		if !ok {
			return nil // no schema for this call, drop it
		}
		rendered = xml
	} else if reasoning != "" {
		rendered = "<think>\n" + reasoning + "\n</think>\n"
	} else {
		return nil
	}

	out, err := sjson.SetBytes(cloneBytes(r.lastEvent), "choices.0.delta.content", rendered)
	if err != nil {
		return nil
	}
	out, _ = sjson.DeleteBytes(out, "choices.0.delta.tool_calls")
	out, _ = sjson.DeleteBytes(out, "choices.0.delta.reasoning_content")
	out, _ = sjson.SetBytes(out, "choices.0.finish_reason", nil)
	return [][]byte{out}
}

// forwardable prepares an event for downstream: native tool-call fragments
// never reach the client, consumed reasoning deltas are stripped so the text
// is not delivered twice, and the tool-call-specific finish reason becomes a
// generic stop.
func (r *Reassembler) forwardable(raw []byte, stripToolCalls bool) []byte {
	out := cloneBytes(raw)
	if stripToolCalls {
		out, _ = sjson.DeleteBytes(out, "choices.0.delta.tool_calls")
	}
	out, _ = sjson.DeleteBytes(out, "choices.0.delta.reasoning_content")
	if gjson.GetBytes(out, "choices.0.finish_reason").String() == "tool_calls" {
		out, _ = sjson.SetBytes(out, "choices.0.finish_reason", "stop")
	}
	return out
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
