package sandbox

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
)

// Result frames are written by the guest to stderr.
// Format: \x00PYBOX:{json}\x00
const (
	framePrefix = "\x00PYBOX:"
	frameSuffix = "\x00"
)

type resultFrame struct {
	OK    bool   `json:"ok"`
	Value string `json:"value,omitempty"`
	Error string `json:"error,omitempty"`
}

// frameReader intercepts guest stderr. Result frames are captured; all other
// bytes are forwarded to the passthrough writer.
type frameReader struct {
	passthrough io.Writer
	buf         bytes.Buffer
	result      *resultFrame
	malformed   bool
	mu          sync.Mutex
}

func newFrameReader(passthrough io.Writer) *frameReader {
	if passthrough == nil {
		passthrough = io.Discard
	}
	return &frameReader{passthrough: passthrough}
}

func (r *frameReader) Write(data []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf.Write(data)

	for {
		content := r.buf.String()
		startIdx := strings.Index(content, framePrefix)
		if startIdx == -1 {
			// Hold back a possible partial prefix at the tail.
			keep := partialPrefixLen(content)
			r.forward(content[:len(content)-keep])
			r.buf.Reset()
			r.buf.WriteString(content[len(content)-keep:])
			break
		}

		r.forward(content[:startIdx])

		body := content[startIdx+len(framePrefix):]
		endIdx := strings.Index(body, frameSuffix)
		if endIdx == -1 {
			r.buf.Reset()
			r.buf.WriteString(content[startIdx:])
			break
		}

		r.buf.Reset()
		r.buf.WriteString(body[endIdx+len(frameSuffix):])

		var frame resultFrame
		if err := json.Unmarshal([]byte(body[:endIdx]), &frame); err != nil {
			r.malformed = true
			continue
		}
		r.result = &frame
	}

	return len(data), nil
}

func (r *frameReader) forward(s string) {
	if s == "" {
		return
	}
	io.WriteString(r.passthrough, s)
}

// Flush forwards any bytes held back while waiting for a frame to complete.
func (r *frameReader) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forward(r.buf.String())
	r.buf.Reset()
}

// Result returns the last complete frame, or nil if the guest never reported.
func (r *frameReader) Result() *resultFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

func (r *frameReader) Malformed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.malformed
}

func partialPrefixLen(s string) int {
	for n := min(len(framePrefix)-1, len(s)); n > 0; n-- {
		if strings.HasSuffix(s, framePrefix[:n]) {
			return n
		}
	}
	return 0
}
