package crm

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// payloadShape names a known directory response layout.
type payloadShape string

const (
	shapeBare      payloadShape = "array"
	shapeUsers     payloadShape = "users"
	shapeData      payloadShape = "data"
	shapeDataUsers payloadShape = "data.users"
	shapeUnknown   payloadShape = ""
)

// envelope covers every wrapped layout the directory is known to return.
type envelope struct {
	Users json.RawMessage `json:"users"`
	Data  json.RawMessage `json:"data"`
}

// splitPayload locates the user array inside a response body and returns its
// raw elements in order.
func splitPayload(body []byte) ([]json.RawMessage, payloadShape, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, shapeUnknown, fmt.Errorf("%w: empty body", ErrUnexpectedPayload)
	}

	if trimmed[0] == '[' {
		items, err := splitArray(trimmed)
		return items, shapeBare, err
	}

	if trimmed[0] != '{' {
		return nil, shapeUnknown, fmt.Errorf("%w: not an array or object", ErrUnexpectedPayload)
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, shapeUnknown, fmt.Errorf("%w: %v", ErrUnexpectedPayload, err)
	}

	switch {
	case isArray(env.Users):
		items, err := splitArray(env.Users)
		return items, shapeUsers, err
	case isArray(env.Data):
		items, err := splitArray(env.Data)
		return items, shapeData, err
	case isObject(env.Data):
		var inner envelope
		if err := json.Unmarshal(env.Data, &inner); err != nil {
			return nil, shapeUnknown, fmt.Errorf("%w: %v", ErrUnexpectedPayload, err)
		}
		if isArray(inner.Users) {
			items, err := splitArray(inner.Users)
			return items, shapeDataUsers, err
		}
	}

	return nil, shapeUnknown, fmt.Errorf("%w: no user array found", ErrUnexpectedPayload)
}

// decodeUsers turns a response body into users. Elements that fail to decode
// are reported individually and skipped.
func decodeUsers(body []byte) ([]User, []RecordError, payloadShape, error) {
	items, shape, err := splitPayload(body)
	if err != nil {
		return nil, nil, shape, err
	}

	users := make([]User, 0, len(items))
	var bad []RecordError
	for i, raw := range items {
		var u User
		if err := json.Unmarshal(raw, &u); err != nil {
			bad = append(bad, RecordError{Index: i, Err: err})
			continue
		}
		users = append(users, u)
	}

	return users, bad, shape, nil
}

func splitArray(raw json.RawMessage) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedPayload, err)
	}
	return items, nil
}

func isArray(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '['
}

func isObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '{'
}
