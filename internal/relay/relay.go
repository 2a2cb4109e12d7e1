// Package relay consumes a backend's incremental text/event-stream
// response and re-emits discrete content tokens to a caller as they
// arrive. A Relay is instantiated per request and holds no shared state.
package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrBackendTransport marks a mid-stream read failure, as opposed to a
// clean terminal sentinel, so callers can tell "finished" from "broke".
var ErrBackendTransport = errors.New("backend transport error")

// StreamToken is one unit of incrementally produced text. Tokens are
// delivered in emission order.
type StreamToken struct {
	Index int
	Text  string
}

// Result is the final outcome of a relayed stream.
type Result struct {
	// FullText is the concatenation of every emitted token.
	FullText string
	// Tokens counts the emitted tokens.
	Tokens int
	// Finished is true when the terminal sentinel was observed; false
	// when the stream ended at EOF without one.
	Finished bool
}

// Relay parses newline-delimited data frames and emits tokens.
type Relay struct {
	strategies []strategy
}

// New returns a relay with the default payload interpretation chain.
func New() *Relay {
	return &Relay{strategies: defaultStrategies()}
}

// Run reads r until the [DONE] sentinel, EOF, or a transport error, and
// invokes onToken for every extracted token before reading the next line.
// Partial lines are carried across chunk boundaries. Malformed payloads
// are skipped, never fatal; only transport read errors abort, wrapped in
// ErrBackendTransport. Cancellation is checked between reads.
func (rl *Relay) Run(ctx context.Context, r io.Reader, onToken func(StreamToken)) (Result, error) {
	reader := bufio.NewReader(r)
	var full strings.Builder
	var res Result

	for {
		select {
		case <-ctx.Done():
			res.FullText = full.String()
			return res, ctx.Err()
		default:
		}

		line, err := reader.ReadString('\n')
		if line != "" {
			done := rl.handleLine(line, &full, &res, onToken)
			if done {
				res.Finished = true
				res.FullText = full.String()
				return res, nil
			}
		}
		if err != nil {
			res.FullText = full.String()
			if errors.Is(err, io.EOF) {
				// EOF without a sentinel still completes; the caller sees
				// Finished=false and decides how to treat it.
				return res, nil
			}
			return res, fmt.Errorf("%w: %v", ErrBackendTransport, err)
		}
	}
}

// handleLine processes one frame and reports whether the terminal
// sentinel was seen.
func (rl *Relay) handleLine(line string, full *strings.Builder, res *Result, onToken func(StreamToken)) bool {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "data:") {
		return false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" {
		return false
	}
	if payload == "[DONE]" {
		return true
	}

	text, ok := rl.extract(payload)
	if !ok || text == "" {
		return false
	}
	full.WriteString(text)
	tok := StreamToken{Index: res.Tokens, Text: text}
	res.Tokens++
	if onToken != nil {
		onToken(tok)
	}
	return false
}

func (rl *Relay) extract(payload string) (string, bool) {
	for _, s := range rl.strategies {
		if text, ok := s.extract(payload); ok {
			return text, true
		}
	}
	log.Debug().Str("payload", truncate(payload, 120)).Msg("stream payload carried no recognizable token field")
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
