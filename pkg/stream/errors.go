package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// serverError is the in-band error shape llama-server emits, both as a
// non-2xx body and occasionally inline in an otherwise-200 stream.
type serverError struct {
	Message string `json:"message"`
	Code    any    `json:"code"`
	Type    string `json:"type"`
}

// ParseServerError turns an error body from the server into a short
// human-readable message. It understands the {"error": {...}} JSON
// shape and falls back to the raw text, truncated, for anything else.
func ParseServerError(errorText string) string {
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal([]byte(errorText), &envelope); err == nil && envelope.Error != nil {
		var obj serverError
		if err := json.Unmarshal(envelope.Error, &obj); err == nil && obj.Message != "" {
			msg := strings.ToLower(obj.Message)
			switch {
			case strings.Contains(msg, "model") && strings.Contains(msg, "not found"):
				return "Model not found: " + obj.Message
			case strings.Contains(msg, "parse error"):
				return "Server request parse error: " + obj.Message
			case strings.Contains(msg, "loading"):
				return "Model loading error: " + obj.Message
			default:
				return fmt.Sprintf("Server error (%v): %s", obj.Code, obj.Message)
			}
		}
		// error key present but not the expected object shape
		return fmt.Sprintf("Server error: %s", envelope.Error)
	}

	if len(errorText) > 200 {
		return "Server error: " + errorText[:200] + "..."
	}
	return "Server error: " + errorText
}

// Sentinel causes injected into the request context so transport
// failures can be told apart after the fact.
var (
	errChunkTimeout = errors.New("chunk read timeout")
	errTotalTimeout = errors.New("request timeout")
)

// classifyTransportError maps a failed connection or read to the
// advice-bearing message shown to the user. cause is the context
// cancellation cause, if any.
func classifyTransportError(err, cause error, opts Options) string {
	switch {
	case errors.Is(cause, errChunkTimeout):
		return fmt.Sprintf("Server response timeout (%ds) - server may be hung or model loading slowly",
			int(opts.ChunkTimeout.Seconds()))
	case errors.Is(cause, errTotalTimeout):
		return fmt.Sprintf("Request timeout (%ds) - server not responding",
			int(opts.TotalTimeout.Seconds()))
	case errors.Is(cause, context.Canceled):
		return interruptedMessage
	}

	s := err.Error()
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "connection refused"):
		return "Connection refused - server may have crashed or is not running"
	case strings.Contains(lower, "connection reset"):
		return "Connection reset - server crashed during request (check model compatibility)"
	case errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) || strings.Contains(lower, "unexpected eof"):
		return "Server disconnected unexpectedly (model may have failed to load)"
	default:
		if len(s) > 200 {
			s = s[:200]
		}
		return "Connection error: " + s
	}
}
