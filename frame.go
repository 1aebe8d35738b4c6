package stomp

import (
	"bytes"
	"fmt"
	"strconv"
)

// infoBodyLimit caps the number of body bytes shown by Frame.Info.
const infoBodyLimit = 20

// header is one key/value pair as it appeared on the wire (or as the
// caller supplied it), preserved in insertion order.
type header struct {
	Key   string
	Value string
}

// Headers is an ordered multi-map of header key/value pairs. Duplicate
// keys are preserved in insertion order (spec §3, §4.3): Get returns the
// canonical first-occurrence value, Del removes every pair for a key, and
// All exposes every pair for callers that asked to see raw headers.
type Headers struct {
	pairs []header
}

// NewHeaders builds a Headers value from an even-length key/value list,
// mirroring djoyahoy-stomp's NewFrame(cmd string, headers ...string) shape.
func NewHeaders(kv ...string) Headers {
	var h Headers
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return h
}

// Add appends a header pair, preserving any existing pair with the same key.
func (h *Headers) Add(key, value string) {
	h.pairs = append(h.pairs, header{Key: key, Value: value})
}

// Set replaces every existing pair for key with a single pair.
func (h *Headers) Set(key, value string) {
	out := h.pairs[:0:0]
	replaced := false
	for _, p := range h.pairs {
		if p.Key == key {
			if !replaced {
				out = append(out, header{Key: key, Value: value})
				replaced = true
			}
			continue
		}
		out = append(out, p)
	}
	if !replaced {
		out = append(out, header{Key: key, Value: value})
	}
	h.pairs = out
}

// Get returns the first value stored for key (STOMP 1.2's canonical
// first-value-wins semantics, spec §4.3), and whether it was present.
func (h Headers) Get(key string) (string, bool) {
	for _, p := range h.pairs {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Del removes every pair with the given key.
func (h *Headers) Del(key string) {
	out := h.pairs[:0:0]
	for _, p := range h.pairs {
		if p.Key != key {
			out = append(out, p)
		}
	}
	h.pairs = out
}

// Len reports the number of raw pairs stored (including duplicates).
func (h Headers) Len() int { return len(h.pairs) }

// All returns every raw pair in insertion order, duplicates included.
func (h Headers) All() []header { return append([]header(nil), h.pairs...) }

// Canonical collapses the multi-map into a plain map using first-value-wins
// semantics, matching the behavior of a Frame built without raw headers.
func (h Headers) Canonical() map[string]string {
	m := make(map[string]string, len(h.pairs))
	for _, p := range h.pairs {
		if _, ok := m[p.Key]; !ok {
			m[p.Key] = p.Value
		}
	}
	return m
}

// equalRaw compares two Headers values as ordered multi-maps: same pairs,
// same order. Used when a Frame carries raw (duplicate-preserving) headers.
func (h Headers) equalRaw(o Headers) bool {
	if len(h.pairs) != len(o.pairs) {
		return false
	}
	for i := range h.pairs {
		if h.pairs[i] != o.pairs[i] {
			return false
		}
	}
	return true
}

// equalCanonical compares two Headers values as plain first-value-wins maps.
func (h Headers) equalCanonical(o Headers) bool {
	a, b := h.Canonical(), o.Canonical()
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// Frame is the in-memory representation of one STOMP frame: a command, an
// ordered set of headers, an opaque body, and the protocol version that
// governs its wire encoding. See spec §3/§4.1.
type Frame struct {
	Command string
	Headers Headers
	Body    []byte
	Version string

	// Raw, when true, makes Equal and Encode treat Headers as an ordered
	// multi-map (duplicates preserved) instead of collapsing to
	// first-value-wins. Corresponds to stompest's rawHeaders/unraw().
	Raw bool
}

// NewFrame builds a Frame for command with the given key/value header pairs.
func NewFrame(command string, version string, kv ...string) *Frame {
	return &Frame{Command: command, Headers: NewHeaders(kv...), Version: normalizeVersion(version)}
}

// HeartBeat is the sentinel wire value for a STOMP heart-beat: a bare line
// delimiter sent outside any frame. It has no headers or body and compares
// equal to every other HeartBeat regardless of version (spec §3).
type HeartBeat struct {
	Version string
}

// Equal reports whether two heart-beats are equal; Version is not part of
// identity, so any two HeartBeat values are equal.
func (HeartBeat) Equal(HeartBeat) bool { return true }

func (HeartBeat) isWireItem() {}

func (Frame) isWireItem() {}

// wireItem is implemented by both Frame and HeartBeat, the two things a
// Parser can hand back (spec §4.3).
type wireItem interface {
	isWireItem()
}

// Unraw collapses a raw (duplicate-preserving) Frame down to first-value-wins
// headers, matching stompest's unraw().
func (f *Frame) Unraw() {
	if !f.Raw {
		return
	}
	f.Headers = Headers{pairs: canonicalPairs(f.Headers)}
	f.Raw = false
}

func canonicalPairs(h Headers) []header {
	seen := make(map[string]bool, len(h.pairs))
	out := make([]header, 0, len(h.pairs))
	for _, p := range h.pairs {
		if seen[p.Key] {
			continue
		}
		seen[p.Key] = true
		out = append(out, p)
	}
	return out
}

// Equal compares two frames by command, headers, and body only; Version
// is not part of identity (spec §4.1). Headers compare as an ordered
// multi-map when either frame has Raw set, otherwise as first-value-wins maps.
func (f *Frame) Equal(o *Frame) bool {
	if o == nil {
		return false
	}
	if f.Command != o.Command {
		return false
	}
	if !bytes.Equal(f.Body, o.Body) {
		return false
	}
	if f.Raw || o.Raw {
		return f.Headers.equalRaw(o.Headers)
	}
	return f.Headers.equalCanonical(o.Headers)
}

// Encode renders the frame to its wire bytes per spec §4.1: COMMAND LF,
// then each header as "key:value" LF, a blank line, the raw body, and a
// trailing NUL. Command and header text go through the version's codec
// and escape rules; the body is copied through unchanged.
func (f *Frame) Encode() ([]byte, error) {
	version := normalizeVersion(f.Version)
	c := codecFor(version)
	esc := newEscaper(version)

	var buf bytes.Buffer

	cmdBytes, err := c.encode(f.Command)
	if err != nil {
		return nil, err
	}
	buf.Write(cmdBytes)
	buf.WriteByte(lineDelimiter)

	pairs := f.Headers.pairs
	if !f.Raw {
		pairs = canonicalPairs(f.Headers)
	}
	for _, p := range pairs {
		ek, err := esc.Escape(f.Command, p.Key)
		if err != nil {
			return nil, err
		}
		ev, err := esc.Escape(f.Command, p.Value)
		if err != nil {
			return nil, err
		}
		kb, err := c.encode(ek)
		if err != nil {
			return nil, err
		}
		vb, err := c.encode(ev)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
		buf.WriteByte(lineDelimiter)
	}
	buf.WriteByte(lineDelimiter)
	buf.Write(f.Body)
	buf.WriteByte(frameDelimiter)

	return buf.Bytes(), nil
}

// Info produces a short, non-secret summary suitable for logging: the
// command, headers, and the first 20 bytes of the body (spec §4.1).
func (f *Frame) Info() string {
	body := f.Body
	truncated := false
	if len(body) > infoBodyLimit {
		body = body[:infoBodyLimit]
		truncated = true
	}
	suffix := ""
	if truncated {
		suffix = "..."
	}

	parts := make([]string, 0, 3)
	if f.Headers.Len() > 0 {
		parts = append(parts, fmt.Sprintf("headers=%v", f.Headers.Canonical()))
	}
	if len(f.Body) > 0 {
		parts = append(parts, fmt.Sprintf("body=%q%s", body, suffix))
	}
	parts = append(parts, fmt.Sprintf("version=%s", normalizeVersion(f.Version)))

	info := ""
	for i, p := range parts {
		if i > 0 {
			info += ", "
		}
		info += p
	}
	return fmt.Sprintf("%s frame [%s]", f.Command, info)
}

// contentLength reads the content-length header, if present and well formed.
func (f *Frame) contentLength() (int, bool, error) {
	v, ok := f.Headers.Get(HdrContentLength)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, true, &FrameError{Reason: "malformed content-length header"}
	}
	return n, true, nil
}
