package proxy

import (
	"encoding/json"
	"log/slog"
	"os"
)

// dumpRequest writes the final outgoing message array and tool list to the
// configured dump file. Diagnostics only, never part of the request path's
// error handling.
func (s *Server) dumpRequest(req map[string]any) {
	path := s.Config.DumpFile
	if path == "" {
		return
	}
	s.dumpFileMu.Lock()
	defer s.dumpFileMu.Unlock()

	payload := map[string]any{
		"messages": req["messages"],
		"tools":    req["tools"],
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		slog.Warn("dump.encode.failed", "error", err)
		return
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		slog.Warn("dump.write.failed", "path", path, "error", err)
	}
}
