package api

import (
	"encoding/json"
	"errors"
	"strings"

	"qazna.org/console/internal/transport"
)

type detailItem struct {
	Msg string `json:"msg"`
}

// DetailMessage extracts the server-provided failure description from err.
// The body may carry {"detail": "text"} or {"detail": [{"msg": "text"}, ...]};
// list messages are joined with "; ". It reports false when no message is
// available.
func DetailMessage(err error) (string, bool) {
	var se *transport.StatusError
	if !errors.As(err, &se) || len(se.Body) == 0 {
		return "", false
	}
	return ParseDetail(se.Body)
}

// ParseDetail extracts the detail message from an error body.
func ParseDetail(body []byte) (string, bool) {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return "", false
	}

	var text string
	if err := json.Unmarshal(envelope.Detail, &text); err == nil {
		text = strings.TrimSpace(text)
		return text, text != ""
	}

	var items []detailItem
	if err := json.Unmarshal(envelope.Detail, &items); err != nil {
		return "", false
	}
	msgs := make([]string, 0, len(items))
	for _, item := range items {
		if m := strings.TrimSpace(item.Msg); m != "" {
			msgs = append(msgs, m)
		}
	}
	if len(msgs) == 0 {
		return "", false
	}
	return strings.Join(msgs, "; "), true
}
