package stream

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Reader reads SSE data frames from an io.Reader.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader creates a new SSE reader.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
	return &Reader{scanner: scanner}
}

// Next returns the next frame's JSON payload. done is true for the [DONE]
// sentinel; non-data and non-JSON lines are skipped. Returns io.EOF when the
// source is exhausted.
func (r *Reader) Next() (payload []byte, done bool, err error) {
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(line[6:])
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil, true, nil
		}
		if !json.Valid([]byte(data)) {
			continue
		}
		return []byte(data), false, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, false, err
	}
	return nil, false, io.EOF
}
