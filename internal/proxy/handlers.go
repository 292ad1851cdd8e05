package proxy

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/toolbridge/toolbridge/internal/parser"
	"github.com/toolbridge/toolbridge/internal/replace"
	"github.com/toolbridge/toolbridge/internal/stream"
	"github.com/toolbridge/toolbridge/internal/types"
)

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if _, ok := parseJSONRequest(w, r, &req); !ok {
		return
	}

	adapted, p, applyCompletion, err := s.adaptRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	body, err := json.Marshal(adapted)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode upstream request")
		return
	}

	resp, err := s.client.Post(r.Context(), "/chat/completions", body, r.Header, r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream request failed: "+err.Error())
		return
	}
	defer resp.Body.Close()

	if streaming, _ := adapted["stream"].(bool); streaming {
		s.streamResponse(w, r, resp, p, applyCompletion)
		return
	}
	s.jsonResponse(w, resp, p, applyCompletion)
}

// adaptRequest rewrites an inbound chat completion request for native tool
// calling: replacement rules run over the messages, the system prompt's tool
// documentation becomes a tools list, and XML history turns become
// structured calls. The input map is never mutated.
func (s *Server) adaptRequest(req map[string]any) (map[string]any, *parser.Parser, func(string) string, error) {
	out := deepCopyMap(req)
	settings := replace.LoadSettings(s.Config.SettingsFile)

	messages, _ := out["messages"].([]any)
	messages, applyCompletion := replace.ApplyToMessages(messages, settings)

	var p *parser.Parser
	if len(messages) > 0 {
		if first, ok := messages[0].(map[string]any); ok {
			if role, _ := first["role"].(string); role == "system" || role == "user" {
				prompt := types.ContentText(first["content"])
				built, newPrompt, err := parser.Build(prompt, !s.Config.NoStrict)
				if err != nil {
					return nil, nil, nil, err
				}
				p = built
				first["content"] = newPrompt
			}
		}
	}

	if p != nil && p.HasTools() {
		out["tools"] = p.Schemas()
		if s.Config.ForceToolChoice {
			out["tool_choice"] = "required"
		}
		messages = p.RewriteHistoryToCalls(messages)
	}
	out["messages"] = messages

	s.dumpRequest(out)
	return out, p, applyCompletion, nil
}

// jsonResponse handles the non-streamed path. Upstream errors pass through
// verbatim; successful completions have their tool calls rewritten to
// embedded XML.
func (s *Server) jsonResponse(w http.ResponseWriter, resp *http.Response, p *parser.Parser, applyCompletion func(string) string) {
	if resp.StatusCode >= 400 || p == nil {
		passthroughResponse(w, resp)
		return
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to read upstream response")
		return
	}
	var completion map[string]any
	if err := json.Unmarshal(raw, &completion); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		w.Write(raw)
		return
	}

	rewritten := p.RewriteCompletionToXML(completion)
	if applyCompletion != nil {
		applyCompletionToChoices(rewritten, applyCompletion)
	}
	writeJSON(w, resp.StatusCode, rewritten)
}

func applyCompletionToChoices(completion map[string]any, apply func(string) string) {
	choices, _ := completion["choices"].([]any)
	for _, rawChoice := range choices {
		choice, ok := rawChoice.(map[string]any)
		if !ok {
			continue
		}
		msg, ok := choice["message"].(map[string]any)
		if !ok {
			continue
		}
		if content, ok := msg["content"].(string); ok && content != "" {
			msg["content"] = apply(content)
		}
	}
}

// streamResponse handles the streamed path, driving the reassembler over
// the upstream SSE frames. An upstream error payload is forwarded verbatim
// as one data frame followed by the done sentinel.
func (s *Server) streamResponse(w http.ResponseWriter, r *http.Request, resp *http.Response, p *parser.Parser, applyCompletion func(string) string) {
	flusher, _ := w.(http.Flusher)
	writeSSEHeaders(w, http.StatusOK)

	writeFrame := func(payload []byte) {
		fmt.Fprintf(w, "data: %s\n\n", payload)
		if flusher != nil {
			flusher.Flush()
		}
	}

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		writeFrame(raw)
		writeFrame([]byte("[DONE]"))
		return
	}

	if p == nil || !p.HasTools() {
		// Nothing to reassemble, relay frames as they come.
		buf := make([]byte, 32*1024)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				w.Write(buf[:n])
				if flusher != nil {
					flusher.Flush()
				}
			}
			if err != nil {
				return
			}
		}
	}

	render := func(name, arguments, id, reasoning string) (string, bool) {
		xml, ok := p.RenderCallAsXML(name, arguments, id, reasoning)
		if ok && applyCompletion != nil {
			xml = applyCompletion(xml)
		}
		return xml, ok
	}

	re := stream.NewReassembler(render)
	reader := stream.NewReader(resp.Body)
	ctx := r.Context()

	for {
		// A gone client is owed nothing, not even a final flush.
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, done, err := reader.Next()
		if err != nil {
			return
		}
		if done {
			for _, out := range re.Finish() {
				writeFrame(out)
			}
			writeFrame([]byte("[DONE]"))
			return
		}
		for _, out := range re.Process(payload) {
			writeFrame(out)
		}
	}
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	resp, err := s.client.Get(r.Context(), "/models", r.Header, r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream request failed: "+err.Error())
		return
	}
	defer resp.Body.Close()
	passthroughResponse(w, resp)
}

func deepCopyMap(in map[string]any) map[string]any {
	raw, err := json.Marshal(in)
	if err != nil {
		return in
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return in
	}
	return out
}
