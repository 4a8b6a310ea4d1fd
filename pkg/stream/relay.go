// Package stream consumes llama-server's chat-completions event
// stream. One Generate call performs one generation request, separates
// reasoning output from answer output, and folds every expected
// failure mode into a Result instead of an error.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jguan/llama-warden/pkg/infra/logger"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultTotalTimeout   = 300 * time.Second
	defaultChunkTimeout   = 60 * time.Second

	interruptedMessage = "Interrupted by user"
	emptyStreamMessage = "No response received from server (model may have failed to load)"
)

// Result is the outcome of one generation request. On failure Response
// carries the error message so callers that only display Response
// still show something useful; Thinking holds whatever reasoning text
// arrived before the failure.
type Result struct {
	Response     string
	Thinking     string
	Success      bool
	ErrorMessage string
}

// Options bounds one Generate call. TotalTimeout caps the whole
// request; ChunkTimeout caps the silence between two received lines,
// so a server that accepted the connection but went mute fails fast.
// Zero values take the package defaults.
type Options struct {
	TotalTimeout time.Duration
	ChunkTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.TotalTimeout == 0 {
		o.TotalTimeout = defaultTotalTimeout
	}
	if o.ChunkTimeout == 0 {
		o.ChunkTimeout = defaultChunkTimeout
	}
	return o
}

// OnChunk receives incremental output. Exactly one of content and
// reasoning is non-empty per call.
type OnChunk func(content, reasoning string)

// Client issues streaming generation requests.
type Client struct {
	httpClient *http.Client
}

// NewClient returns a Client with a bounded dial timeout and no
// client-level request timeout; per-request deadlines come from
// Options.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: defaultConnectTimeout,
				}).DialContext,
			},
		},
	}
}

// streamChunk is one decoded data: line.
type streamChunk struct {
	Error   json.RawMessage `json:"error"`
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Generate posts payload to endpoint and consumes the event stream
// until [DONE], an error, cancellation, or a timeout. It blocks the
// caller for the duration and always returns a Result; ctx
// cancellation yields a failed Result with Thinking preserved, not an
// error.
func (c *Client) Generate(ctx context.Context, endpoint string, payload ChatRequest, opts Options, onChunk OnChunk) Result {
	opts = opts.withDefaults()
	ctx = logger.SetRequestID(ctx, uuid.NewString()[:8])
	log := logger.WithContext(ctx)

	body, err := json.Marshal(payload)
	if err != nil {
		msg := fmt.Sprintf("Unexpected error: %v", err)
		return Result{Response: msg, Success: false, ErrorMessage: msg}
	}

	// Timeouts cancel the request context with a distinguishing
	// cause, so a failed read can name which limit fired.
	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	totalTimer := time.AfterFunc(opts.TotalTimeout, func() { cancel(errTotalTimeout) })
	defer totalTimer.Stop()
	// Armed through connect as well: a server that accepts the TCP
	// connection but never answers trips the same watchdog.
	chunkTimer := time.AfterFunc(opts.ChunkTimeout, func() { cancel(errChunkTimeout) })
	defer chunkTimer.Stop()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		msg := fmt.Sprintf("Unexpected error: %v", err)
		return Result{Response: msg, Success: false, ErrorMessage: msg}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	log.Info("generation request", "endpoint", endpoint, "model", payload.Model)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		msg := classifyTransportError(err, context.Cause(reqCtx), opts)
		log.Warn("generation request failed", "error", msg)
		return Result{Response: msg, Success: false, ErrorMessage: msg}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1000))
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if len(raw) > 0 {
			msg = ParseServerError(string(raw))
		}
		log.Warn("generation rejected", "status", resp.StatusCode, "error", msg)
		return Result{Response: msg, Success: false, ErrorMessage: msg}
	}

	var answer, thinking strings.Builder
	failed := func(msg string) Result {
		log.Warn("generation failed", "error", msg)
		return Result{
			Response:     msg,
			Thinking:     thinking.String(),
			Success:      false,
			ErrorMessage: msg,
		}
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, readErr := reader.ReadString('\n')
		chunkTimer.Reset(opts.ChunkTimeout)

		if readErr != nil && readErr != io.EOF {
			if ctx.Err() != nil && context.Cause(reqCtx) == context.Canceled {
				log.Info("generation interrupted")
				return failed(interruptedMessage)
			}
			return failed(classifyTransportError(readErr, context.Cause(reqCtx), opts))
		}
		// A body ending without a trailing newline hands back its final
		// line together with io.EOF; that line still gets processed.
		eof := readErr == io.EOF

		// Cooperative cancellation, checked once per line.
		if ctx.Err() != nil {
			log.Info("generation interrupted")
			return failed(interruptedMessage)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			if eof {
				break
			}
			continue
		}

		// Some failures arrive as a bare JSON error object rather
		// than a data: record.
		if strings.HasPrefix(line, "{") && strings.Contains(line, `"error"`) {
			if msg, ok := inBandError(line); ok {
				return failed(msg)
			}
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Keep-alive and comment lines land here; never fatal.
			if data != "" && !strings.HasPrefix(data, ":") {
				log.Warn("unparseable stream chunk", "data", truncate(data, 100))
			}
			continue
		}
		if chunk.Error != nil {
			return failed(ParseServerError(data))
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.ReasoningContent != "" {
			thinking.WriteString(delta.ReasoningContent)
			if onChunk != nil {
				onChunk("", delta.ReasoningContent)
			}
		}
		if delta.Content != "" {
			answer.WriteString(delta.Content)
			if onChunk != nil {
				onChunk(delta.Content, "")
			}
		}
		if eof {
			break
		}
	}

	response := strings.TrimSpace(answer.String())
	reasoning := strings.TrimSpace(thinking.String())

	if response == "" && reasoning == "" {
		return failed(emptyStreamMessage)
	}

	log.Info("generation complete",
		"response_chars", len(response), "thinking_chars", len(reasoning))
	return Result{Response: response, Thinking: reasoning, Success: true}
}

// inBandError reports whether line is a raw JSON object carrying an
// error key, and the classified message if so.
func inBandError(line string) (string, bool) {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal([]byte(line), &envelope); err != nil || envelope.Error == nil {
		return "", false
	}
	return ParseServerError(line), true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
