package optimizer

import (
	"context"
	"encoding/json"
	"io"
)

// Resolve picks the worker result for one finished invocation. A valid line
// from the structured channel wins; otherwise the scraped stream is used.
func Resolve(structured [][]byte, parser *OutputParser) (json.RawMessage, error) {
	if payload, ok := lastStructured(structured, parser); ok {
		return payload, CheckWorkerError(payload)
	}
	payload, err := parser.Finish()
	if err != nil {
		return nil, err
	}
	return payload, CheckWorkerError(payload)
}

// Invoke runs one unit through runner and parses its output in mode. A result
// recognised while the worker was still running is kept even if the process
// then exits non-zero. tee, when set, receives a copy of the raw stream.
func Invoke(ctx context.Context, runner Runner, input any, mode Mode, tee io.Writer) (json.RawMessage, *Invocation, error) {
	parser := NewOutputParser(mode)
	var stream io.Writer = parser
	if tee != nil {
		stream = io.MultiWriter(parser, tee)
	}

	invocation, runErr := runner.Run(ctx, input, stream)

	var structured [][]byte
	if invocation != nil {
		structured = invocation.Structured
	}
	if payload, ok := lastStructured(structured, parser); ok {
		return payload, invocation, CheckWorkerError(payload)
	}
	if payload, ok := parser.Result(); ok {
		return payload, invocation, CheckWorkerError(payload)
	}
	if runErr != nil {
		return nil, invocation, runErr
	}

	payload, err := Resolve(nil, parser)
	return payload, invocation, err
}

func lastStructured(lines [][]byte, parser *OutputParser) (json.RawMessage, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		if payload, ok := parser.Accept(lines[i]); ok {
			return payload, true
		}
	}
	return nil, false
}
