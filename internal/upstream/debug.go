package upstream

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

// dumpResponseBody wraps the response body so that everything read from it
// is mirrored to stderr between dump boundaries. Debug mode only.
func (c *Client) dumpResponseBody(resp *http.Response) {
	if c == nil || !c.Debug || resp == nil || resp.Body == nil {
		return
	}
	title := "UPSTREAM RESPONSE BODY"
	c.writeDebugDumpBoundary(title, true)
	resp.Body = &debugDumpReadCloser{src: resp.Body, client: c, title: title}
}

func (c *Client) writeDebugDumpBlock(title string, data []byte) {
	c.writeDebugDumpBoundary(title, true)
	if len(data) > 0 {
		c.writeDebugDumpChunk(data)
		if data[len(data)-1] != '\n' {
			c.writeDebugDumpChunk([]byte("\n"))
		}
	}
	c.writeDebugDumpBoundary(title, false)
}

func (c *Client) writeDebugDumpBoundary(title string, begin bool) {
	if c == nil {
		return
	}
	c.dumpMu.Lock()
	defer c.dumpMu.Unlock()

	kind := "END"
	if begin {
		kind = "BEGIN"
	}
	line := "===== " + strings.TrimSpace(title) + " " + kind + " =====\n"
	if _, err := os.Stderr.WriteString(line); err != nil {
		slog.Error("upstream.dump.write.failed", "title", title, "error", err)
	}
}

func (c *Client) writeDebugDumpChunk(data []byte) {
	if c == nil || len(data) == 0 {
		return
	}
	c.dumpMu.Lock()
	defer c.dumpMu.Unlock()
	if _, err := os.Stderr.Write(data); err != nil {
		slog.Error("upstream.dump.write.failed", "error", err)
	}
}

type debugDumpReadCloser struct {
	src      io.ReadCloser
	client   *Client
	title    string
	closed   bool
	lastByte byte
	hasData  bool
}

func (d *debugDumpReadCloser) Read(p []byte) (int, error) {
	if d == nil || d.src == nil {
		return 0, io.EOF
	}
	n, err := d.src.Read(p)
	if n > 0 {
		chunk := p[:n]
		d.hasData = true
		d.lastByte = chunk[len(chunk)-1]
		d.client.writeDebugDumpChunk(chunk)
	}
	if err == io.EOF {
		d.finish()
	}
	return n, err
}

func (d *debugDumpReadCloser) Close() error {
	if d == nil || d.src == nil {
		return nil
	}
	err := d.src.Close()
	d.finish()
	return err
}

func (d *debugDumpReadCloser) finish() {
	if d == nil || d.closed {
		return
	}
	d.closed = true
	if d.hasData && d.lastByte != '\n' {
		d.client.writeDebugDumpChunk([]byte("\n"))
	}
	d.client.writeDebugDumpBoundary(d.title, false)
}
