package tgui

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Data formats inline callback data as "scope:action:payload".
// Payload is kept as-is (no escaping). If you pass structured payload,
// prefer PackJSON.
func Data(scope, action, payload string) string {
	scope = strings.TrimSpace(scope)
	action = strings.TrimSpace(action)
	if payload == "" {
		return scope + ":" + action
	}
	return scope + ":" + action + ":" + payload
}

// Split parses "scope:action:payload" callback data. The payload part may
// itself contain colons.
func Split(data string) (scope, action, payload string) {
	parts := strings.SplitN(data, ":", 3)
	scope = parts[0]
	if len(parts) > 1 {
		action = parts[1]
	}
	if len(parts) > 2 {
		payload = parts[2]
	}
	return scope, action, payload
}

// PackJSON marshals v to JSON then Base64URL encodes it (no padding),
// suitable for the payload part of "scope:action:payload".
func PackJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// MustPackJSON is like PackJSON but returns empty string on error.
func MustPackJSON(v any) string {
	s, _ := PackJSON(v)
	return s
}

// UnpackJSON decodes base64url payload then unmarshals into v.
func UnpackJSON(payload string, v any) error {
	b, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
