package stream

import (
	"io"
	"strings"
	"testing"
)

func TestReader(t *testing.T) {
	src := `data: {"choices":[{"delta":{"content":"Hello"}}]}

data: {"choices":[{"delta":{"content":" world"}}]}

data: [DONE]

`
	r := NewReader(strings.NewReader(src))

	payload, done, err := r.Next()
	if err != nil || done {
		t.Fatalf("first frame: %v done=%v", err, done)
	}
	if !strings.Contains(string(payload), "Hello") {
		t.Errorf("payload: %s", payload)
	}

	if _, done, err = r.Next(); err != nil || done {
		t.Fatalf("second frame: %v done=%v", err, done)
	}

	if _, done, err = r.Next(); err != nil || !done {
		t.Fatalf("expected done, got err=%v done=%v", err, done)
	}

	if _, _, err = r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReaderSkipsNoise(t *testing.T) {
	src := `: comment line
event: message
data: not json
data: {"ok":true}
data: [DONE]
`
	r := NewReader(strings.NewReader(src))
	payload, done, err := r.Next()
	if err != nil || done {
		t.Fatalf("frame: %v done=%v", err, done)
	}
	if string(payload) != `{"ok":true}` {
		t.Errorf("payload: %s", payload)
	}
}
