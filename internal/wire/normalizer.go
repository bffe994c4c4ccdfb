package wire

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
)

// doneSentinel is the literal SSE payload that ends a stream.
const doneSentinel = "[DONE]"

// Normalizer turns raw provider chunks into normalized events. It owns the
// line buffer, so UTF-8 sequences and JSON payloads split across chunks
// reassemble before decoding; a partial line is never decoded.
type Normalizer struct {
	decode DecodeFunc
	emit   func(Event)
	buf    []byte
	done   bool
}

// NewNormalizer creates a Normalizer that feeds decoded events to emit.
func NewNormalizer(decode DecodeFunc, emit func(Event)) *Normalizer {
	return &Normalizer{decode: decode, emit: emit}
}

// Feed consumes one raw chunk from the provider stream.
func (n *Normalizer) Feed(chunk []byte) {
	if n.done {
		return
	}
	n.buf = append(n.buf, chunk...)

	for {
		idx := bytes.IndexByte(n.buf, '\n')
		if idx < 0 {
			break
		}
		line := n.buf[:idx]
		n.buf = n.buf[idx+1:]
		n.processLine(line)
		if n.done {
			n.buf = nil
			return
		}
	}

	// Some vendors send an entire JSON object as a single chunk with no
	// trailing newline. If the remainder already parses as a complete
	// object, process it now instead of waiting for a delimiter that
	// will never come.
	if rest := bytes.TrimSpace(n.buf); len(rest) > 0 {
		payload := rest
		if after, ok := bytes.CutPrefix(rest, []byte("data:")); ok {
			payload = bytes.TrimSpace(after)
		}
		if len(payload) > 0 && payload[0] == '{' && json.Valid(payload) {
			n.buf = nil
			n.decodePayload(payload)
		}
	}
}

// Close flushes any buffered trailing line. Safe to call more than once.
func (n *Normalizer) Close() {
	if n.done {
		return
	}
	if rest := bytes.TrimSpace(n.buf); len(rest) > 0 {
		n.processLine(rest)
	}
	n.buf = nil
	n.done = true
}

func (n *Normalizer) processLine(raw []byte) {
	line := strings.TrimRight(string(raw), "\r")
	trimmed := strings.TrimSpace(line)

	switch {
	case trimmed == "":
		return
	case strings.HasPrefix(trimmed, ":"),
		strings.HasPrefix(trimmed, "id:"),
		strings.HasPrefix(trimmed, "retry:"):
		// SSE protocol noise.
		return
	case strings.HasPrefix(trimmed, "event:"):
		// Informational; the data line that follows carries the payload.
		return
	case strings.HasPrefix(trimmed, "data:"):
		payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
		if payload == doneSentinel {
			n.done = true
			return
		}
		n.decodePayload([]byte(payload))
	case trimmed[0] == '{':
		// Bare JSON-lines framing, no SSE prefix.
		n.decodePayload([]byte(trimmed))
	default:
		slog.Debug("skipping unrecognized stream line", slog.String("line", trimmed))
	}
}

func (n *Normalizer) decodePayload(payload []byte) {
	if !json.Valid(payload) {
		slog.Warn("skipping malformed stream payload", slog.Int("len", len(payload)))
		return
	}
	if err := n.decode(payload, n.emit); err != nil {
		slog.Warn("stream payload decode failed", slog.Any("error", err))
	}
}
