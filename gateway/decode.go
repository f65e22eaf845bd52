package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// reply is the union of every shape the inference process emits.
type reply struct {
	Response    json.RawMessage `json:"response"`
	Suggestions json.RawMessage `json:"suggestions"`
	Error       json.RawMessage `json:"error"`
}

// readReply decodes the first JSON document from r. Anything after it is
// left unread.
func readReply(r io.Reader) (json.RawMessage, error) {
	dec := json.NewDecoder(r)
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("no reply before stream closed")
		}
		return nil, err
	}
	return raw, nil
}

// normalize maps one decoded document to a Result. The process may emit
// either an object or a string holding an encoded object.
func normalize(raw json.RawMessage) Result {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return FailedResult(ProtocolError, "malformed reply string: %v", err)
		}
		raw = json.RawMessage(strings.TrimSpace(inner))
	}

	if len(raw) == 0 || raw[0] != '{' {
		return FailedResult(ProtocolError, "reply is not an object: %s", truncate(string(raw), 200))
	}

	var msg reply
	if err := json.Unmarshal(raw, &msg); err != nil {
		return FailedResult(ProtocolError, "malformed reply: %v", err)
	}

	if present(msg.Response) {
		var text string
		if err := json.Unmarshal(msg.Response, &text); err != nil {
			return FailedResult(ProtocolError, "response is not a string")
		}
		if text != "" {
			return OKResult(text)
		}
	}

	if present(msg.Suggestions) {
		var items []string
		if err := json.Unmarshal(msg.Suggestions, &items); err != nil {
			return FailedResult(ProtocolError, "suggestions is not a list of strings")
		}
		if items == nil {
			items = []string{}
		}
		return SuggestionsResult(items)
	}

	if present(msg.Error) {
		var text string
		if err := json.Unmarshal(msg.Error, &text); err != nil {
			text = string(msg.Error)
		}
		if text == "" {
			text = "inference process reported an error"
		}
		return Result{Kind: Failed, Err: &Error{Kind: ModelError, Message: text}}
	}

	return FailedResult(ProtocolError, "unexpected reply: %s", truncate(string(raw), 200))
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// truncate truncates s to maxBytes, appending "..." if truncated.
func truncate(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "..."
}
