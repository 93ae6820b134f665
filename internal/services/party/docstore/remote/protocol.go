// Package remote exposes a docstore over WebSocket and provides the matching
// client. Frames are JSON objects {type, request_id, payload}; every request
// is answered by exactly one doc.result or doc.error with the same
// request_id, and subscriptions stream doc.changed frames.
package remote

import (
	"encoding/json"

	apperrors "github.com/louisbranch/questparty/internal/platform/errors"
	"github.com/louisbranch/questparty/internal/services/party/docstore"
)

const (
	typeGet         = "doc.get"
	typeMerge       = "doc.merge"
	typeCAS         = "doc.cas"
	typeDelete      = "doc.delete"
	typeSubscribe   = "doc.subscribe"
	typeUnsubscribe = "doc.unsubscribe"

	typeResult  = "doc.result"
	typeChanged = "doc.changed"
	typeError   = "doc.error"
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type wireSnapshot struct {
	Path    string `json:"path"`
	Value   any    `json:"value"`
	Exists  bool   `json:"exists"`
	Version int64  `json:"version"`
}

func toWire(snap docstore.Snapshot) wireSnapshot {
	return wireSnapshot{Path: snap.Path, Value: snap.Value, Exists: snap.Exists, Version: snap.Version}
}

func (w wireSnapshot) snapshot() docstore.Snapshot {
	return docstore.Snapshot{Path: w.Path, Value: w.Value, Exists: w.Exists, Version: w.Version}
}

type pathPayload struct {
	Path string `json:"path"`
}

type mergePayload struct {
	Path   string         `json:"path"`
	Fields map[string]any `json:"fields"`
}

type casPayload struct {
	Path    string `json:"path"`
	Version int64  `json:"version"`
	Value   any    `json:"value"`
}

type casResult struct {
	OK       bool         `json:"ok"`
	Snapshot wireSnapshot `json:"snapshot"`
}

type subscribePayload struct {
	Path           string `json:"path"`
	SubscriptionID string `json:"subscription_id"`
}

type unsubscribePayload struct {
	SubscriptionID string `json:"subscription_id"`
}

type changedPayload struct {
	SubscriptionID string       `json:"subscription_id"`
	Snapshot       wireSnapshot `json:"snapshot"`
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

// errorFromWire rebuilds a coded error from a doc.error payload.
func errorFromWire(e wsError) error {
	code := apperrors.Code(e.Code)
	if !code.Known() {
		code = apperrors.CodeUnknown
	}
	return apperrors.New(code, e.Message)
}
