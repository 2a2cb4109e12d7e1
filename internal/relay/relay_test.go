package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

// chunkReader returns its chunks one Read at a time, simulating arbitrary
// network framing.
type chunkReader struct {
	chunks []string
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n < len(r.chunks[0]) {
		r.chunks[0] = r.chunks[0][n:]
	} else {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func collect(t *testing.T, r io.Reader) (Result, []StreamToken, error) {
	t.Helper()
	var tokens []StreamToken
	res, err := New().Run(context.Background(), r, func(tok StreamToken) {
		tokens = append(tokens, tok)
	})
	return res, tokens, err
}

func TestRunRoundTrip(t *testing.T) {
	stream := `data: {"response": "Hel"}
data: {"response": "lo, "}
data: {"response": "world"}
data: [DONE]
`
	res, tokens, err := collect(t, strings.NewReader(stream))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Finished {
		t.Fatal("sentinel seen, Finished should be true")
	}
	if len(tokens) != 3 || res.Tokens != 3 {
		t.Fatalf("tokens = %d/%d, want 3", len(tokens), res.Tokens)
	}
	for i, tok := range tokens {
		if tok.Index != i {
			t.Fatalf("token %d carries index %d", i, tok.Index)
		}
	}
	if res.FullText != "Hello, world" {
		t.Fatalf("full text = %q", res.FullText)
	}
}

func TestRunSentinelSplitAcrossChunks(t *testing.T) {
	r := &chunkReader{chunks: []string{
		"data: {\"tok", "en\": \"a\"}\ndata: ",
		"[DO", "NE]\ndata: {\"token\": \"never\"}\n",
	}}
	res, tokens, err := collect(t, r)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Finished {
		t.Fatal("Finished should be true")
	}
	if len(tokens) != 1 || tokens[0].Text != "a" {
		t.Fatalf("tokens = %+v, want exactly [a]", tokens)
	}
}

func TestRunFieldPriority(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"response wins over token", `{"response": "r", "token": "t"}`, "r"},
		{"token", `{"token": "t"}`, "t"},
		{"text", `{"text": "x"}`, "x"},
		{"content", `{"content": "c"}`, "c"},
		{"anthropic delta", `{"delta": {"text": "d"}}`, "d"},
		{"openai chunk", `{"choices": [{"delta": {"content": "o"}}]}`, "o"},
		{"raw fallback", `plain words`, "plain words"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := "data: " + tt.payload + "\ndata: [DONE]\n"
			res, _, err := collect(t, strings.NewReader(stream))
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.FullText != tt.want {
				t.Fatalf("full text = %q, want %q", res.FullText, tt.want)
			}
		})
	}
}

func TestRunSkipsUnusableFrames(t *testing.T) {
	stream := "event: ping\n" +
		"\n" +
		"data: {\"usage\": {\"input_tokens\": 3}}\n" + // valid JSON, no text field
		"data:\n" +
		"data: {\"token\": \"ok\"}\n" +
		"data: [DONE]\n"
	res, tokens, err := collect(t, strings.NewReader(stream))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tokens) != 1 || res.FullText != "ok" {
		t.Fatalf("tokens = %+v full = %q, want one token \"ok\"", tokens, res.FullText)
	}
}

func TestRunEOFWithoutSentinel(t *testing.T) {
	// Trailing partial line without a newline must still be processed.
	stream := "data: {\"token\": \"a\"}\ndata: {\"token\": \"b\"}"
	res, tokens, err := collect(t, strings.NewReader(stream))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Finished {
		t.Fatal("no sentinel, Finished should be false")
	}
	if len(tokens) != 2 || res.FullText != "ab" {
		t.Fatalf("tokens = %+v full = %q", tokens, res.FullText)
	}
}

func TestRunTransportError(t *testing.T) {
	r := &chunkReader{
		chunks: []string{"data: {\"token\": \"partial\"}\n"},
		err:    errors.New("connection reset"),
	}
	res, tokens, err := collect(t, r)
	if !errors.Is(err, ErrBackendTransport) {
		t.Fatalf("err = %v, want ErrBackendTransport", err)
	}
	if len(tokens) != 1 || res.FullText != "partial" {
		t.Fatalf("tokens delivered before the failure must survive: %+v %q", tokens, res.FullText)
	}
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := New().Run(ctx, strings.NewReader("data: {\"token\": \"x\"}\n"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res.Finished {
		t.Fatal("cancelled run must not report Finished")
	}
}
