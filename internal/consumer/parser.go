package consumer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/pasthortown/message-sender/internal/domain"
)

// ErrMalformedMessage marks a body that can never be decoded. Such messages
// are rejected without requeue.
var ErrMalformedMessage = errors.New("consumer: malformed message")

// JSONActivityParser implements MessageParser for UTF-8 JSON activity messages
type JSONActivityParser struct{}

// NewJSONActivityParser creates a new JSON activity parser
func NewJSONActivityParser() *JSONActivityParser {
	return &JSONActivityParser{}
}

// Parse decodes a JSON object body into an ActivityEvent. Unknown fields are
// ignored and missing ones are left empty.
func (p *JSONActivityParser) Parse(body []byte) (*domain.ActivityEvent, error) {
	if !utf8.Valid(body) {
		return nil, fmt.Errorf("%w: body is not valid UTF-8", ErrMalformedMessage)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var msgBody map[string]any
	if err := dec.Decode(&msgBody); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal message body: %w", ErrMalformedMessage, err)
	}
	if msgBody == nil {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrMalformedMessage)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected data after JSON object", ErrMalformedMessage)
	}

	return &domain.ActivityEvent{
		MessageID: normalizeValue(msgBody["message_id"]),
		Email:     getStringField(msgBody, "email"),
		Zone:      normalizeValue(msgBody["zona"]),
		State:     getStringField(msgBody, "estado"),
		Timestamp: msgBody["timestamp"],
	}, nil
}

// Helper functions for extracting fields from parsed JSON
func getStringField(m map[string]any, key string) string {
	if val, ok := m[key].(string); ok {
		return val
	}
	return ""
}

// normalizeValue turns json.Number into int64 or float64 so stores keep
// numeric types, recursing into objects and arrays.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		for k, inner := range val {
			val[k] = normalizeValue(inner)
		}
		return val
	case []any:
		for i, inner := range val {
			val[i] = normalizeValue(inner)
		}
		return val
	default:
		return val
	}
}
