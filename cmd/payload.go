package main

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// commandFlags are shared by send and write.
type commandFlags struct {
	id       string
	noID     bool
	asString bool
}

type commandPayload struct {
	Command string          `json:"command"`
	Value   json.RawMessage `json:"value"`
	ID      string          `json:"id,omitempty"`
}

// parseValue reads a CLI argument as JSON when it parses as JSON, otherwise
// as a plain string, so `true`, `0.8` and `excited` all do what you mean.
func parseValue(arg string, asString bool) json.RawMessage {
	trimmed := strings.TrimSpace(arg)
	if !asString && trimmed != "" && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(arg)
	return quoted
}

func (f commandFlags) resolveID() string {
	if f.noID {
		return ""
	}
	if f.id != "" {
		return f.id
	}
	return uuid.NewString()
}

func buildPayload(name string, value string, flags commandFlags) ([]byte, error) {
	return json.Marshal(commandPayload{
		Command: name,
		Value:   parseValue(value, flags.asString),
		ID:      flags.resolveID(),
	})
}
