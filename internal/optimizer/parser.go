package optimizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// RouteResultMarker precedes the JSON payload the route worker prints.
const RouteResultMarker = "Route Result:"

var ErrNoResult = errors.New("no result found in optimizer output")

type Mode int

const (
	// ModeAllocation accepts objects carrying an "allocations" key.
	ModeAllocation Mode = iota
	// ModeRoute accepts any JSON object. While streaming, a bare object is
	// only taken when it is a worker error; results come after the marker.
	ModeRoute
)

func (m Mode) String() string {
	switch m {
	case ModeAllocation:
		return "allocation"
	case ModeRoute:
		return "route"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// WorkerError is a failure the worker reported itself: an object whose
// top-level "error" is a non-empty string, whatever else it carries.
type WorkerError struct {
	Message string
}

func (e *WorkerError) Error() string {
	return "optimizer reported error: " + e.Message
}

// OutputParser scans the worker diagnostic stream for the embedded result.
// It is written to chunk by chunk; the first accepted payload wins and later
// chunks are only buffered.
//
// The end-of-stream fallback keeps the last JSON-looking line, so a worker
// that prints a well-formed progress object after its result can be
// mis-parsed. Prefer the structured channel where the worker supports it.
type OutputParser struct {
	mode Mode

	mu       sync.Mutex
	buf      bytes.Buffer
	accepted json.RawMessage
}

func NewOutputParser(mode Mode) *OutputParser {
	return &OutputParser{mode: mode}
}

func (p *OutputParser) Write(chunk []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.Write(chunk)
	if p.accepted != nil {
		return len(chunk), nil
	}

	if payload, ok := p.parseObject(chunk); ok && p.bareAllowed(payload) {
		p.accepted = payload
		return len(chunk), nil
	}
	if payload, ok := p.afterMarker(p.buf.Bytes()); ok {
		p.accepted = payload
	}
	return len(chunk), nil
}

// Result returns the payload accepted while streaming, if any.
func (p *OutputParser) Result() (json.RawMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.accepted == nil {
		return nil, false
	}
	return p.accepted, true
}

// Finish runs the end-of-stream recovery over the whole buffer.
func (p *OutputParser) Finish() (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accepted != nil {
		return p.accepted, nil
	}
	text := p.buf.Bytes()
	if payload, ok := p.afterMarkerSpan(text); ok {
		p.accepted = payload
		return payload, nil
	}

	var last []byte
	for _, line := range bytes.Split(text, []byte("\n")) {
		if looksLikeObject(line) {
			last = line
		}
	}
	if last != nil {
		if payload, ok := p.parseObject(last); ok {
			p.accepted = payload
			return payload, nil
		}
	}
	return nil, ErrNoResult
}

// Accept checks a payload from another source (the structured channel)
// against this parser's shape rule.
func (p *OutputParser) Accept(line []byte) (json.RawMessage, bool) {
	return p.parseObject(line)
}

func (p *OutputParser) parseObject(raw []byte) (json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if !looksLikeObject(trimmed) {
		return nil, false
	}
	var object map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &object); err != nil {
		return nil, false
	}
	if !p.shapeOK(object) {
		return nil, false
	}
	return append(json.RawMessage(nil), trimmed...), true
}

func (p *OutputParser) shapeOK(object map[string]json.RawMessage) bool {
	if _, ok := workerErrorMessage(object); ok {
		return true
	}
	switch p.mode {
	case ModeAllocation:
		_, ok := object["allocations"]
		return ok
	default:
		return true
	}
}

// bareAllowed reports whether a bare object chunk may be taken before the
// marker has been seen.
func (p *OutputParser) bareAllowed(payload json.RawMessage) bool {
	if p.mode != ModeRoute {
		return true
	}
	return CheckWorkerError(payload) != nil
}

// afterMarker parses everything after the last marker occurrence.
func (p *OutputParser) afterMarker(text []byte) (json.RawMessage, bool) {
	idx := bytes.LastIndex(text, []byte(RouteResultMarker))
	if idx < 0 {
		return nil, false
	}
	return p.parseObject(text[idx+len(RouteResultMarker):])
}

// afterMarkerSpan is the lenient end-of-stream form: it keeps the span from
// the first brace after the last marker to the last brace in the buffer so
// trailing log lines do not hide the payload.
func (p *OutputParser) afterMarkerSpan(text []byte) (json.RawMessage, bool) {
	idx := bytes.LastIndex(text, []byte(RouteResultMarker))
	if idx < 0 {
		return nil, false
	}
	rest := text[idx+len(RouteResultMarker):]
	start := bytes.IndexByte(rest, '{')
	end := bytes.LastIndexByte(rest, '}')
	if start < 0 || end < start {
		return nil, false
	}
	if payload, ok := p.parseObject(rest[start : end+1]); ok {
		return payload, true
	}
	return p.parseObject(rest)
}

func looksLikeObject(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) >= 2 && trimmed[0] == '{' && trimmed[len(trimmed)-1] == '}'
}

// CheckWorkerError converts a payload carrying a top-level error string
// into a *WorkerError.
func CheckWorkerError(payload json.RawMessage) error {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(payload, &object); err != nil {
		return nil
	}
	if message, ok := workerErrorMessage(object); ok {
		return &WorkerError{Message: message}
	}
	return nil
}

func workerErrorMessage(object map[string]json.RawMessage) (string, bool) {
	raw, ok := object["error"]
	if !ok {
		return "", false
	}
	var message string
	if err := json.Unmarshal(raw, &message); err != nil {
		return "", false
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return "", false
	}
	return message, true
}
