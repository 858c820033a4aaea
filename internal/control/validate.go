package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidJSON    = errors.New("invalid json")
	ErrInvalidCommand = errors.New("invalid command")
	ErrInvalidValue   = errors.New("invalid value for command")
	ErrInvalidID      = errors.New("id must be a string")
)

// Reason is the machine-readable rejection text returned to HTTP callers.
type Reason string

const (
	ReasonInvalidJSON    Reason = "Invalid JSON"
	ReasonInvalidCommand Reason = "Invalid command"
	ReasonInvalidValue   Reason = "Invalid value for command"
	ReasonInvalidID      Reason = "id must be a string"
)

// ReasonOf maps a Decode error to its wire reason. ok is false for errors
// that did not come from validation.
func ReasonOf(err error) (Reason, bool) {
	switch {
	case errors.Is(err, ErrInvalidJSON):
		return ReasonInvalidJSON, true
	case errors.Is(err, ErrInvalidCommand):
		return ReasonInvalidCommand, true
	case errors.Is(err, ErrInvalidValue):
		return ReasonInvalidValue, true
	case errors.Is(err, ErrInvalidID):
		return ReasonInvalidID, true
	default:
		return "", false
	}
}

// Decode parses an untrusted payload into a Command. It has no side effects.
func Decode(raw []byte) (Command, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Command{}, ErrInvalidJSON
	}

	var name string
	rawName, ok := fields["command"]
	if !ok || kindOf(rawName) != kindString {
		return Command{}, ErrInvalidCommand
	}
	if err := json.Unmarshal(rawName, &name); err != nil {
		return Command{}, ErrInvalidCommand
	}
	cmd := Command{Name: Name(name)}
	if !cmd.Name.Known() {
		return Command{}, fmt.Errorf("%w: %q", ErrInvalidCommand, name)
	}

	if err := decodeValue(&cmd, fields["value"]); err != nil {
		return Command{}, err
	}

	if rawID, ok := fields["id"]; ok {
		if kindOf(rawID) != kindString {
			return Command{}, ErrInvalidID
		}
		if err := json.Unmarshal(rawID, &cmd.ID); err != nil {
			return Command{}, ErrInvalidID
		}
	}

	return cmd, nil
}

func decodeValue(cmd *Command, raw json.RawMessage) error {
	switch cmd.Name {
	case SetIsThinking:
		if kindOf(raw) != kindBool {
			return fmt.Errorf("%w: %s wants a boolean", ErrInvalidValue, cmd.Name)
		}
		if err := json.Unmarshal(raw, &cmd.Bool); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
	case SetIntensity:
		if kindOf(raw) != kindNumber {
			return fmt.Errorf("%w: %s wants a number", ErrInvalidValue, cmd.Name)
		}
		if err := json.Unmarshal(raw, &cmd.Float); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
	default:
		if kindOf(raw) != kindString {
			return fmt.Errorf("%w: %s wants a string", ErrInvalidValue, cmd.Name)
		}
		if err := json.Unmarshal(raw, &cmd.Text); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
	}
	return cmd.Validate()
}

// Validate checks the range constraints of an already typed command.
func (c Command) Validate() error {
	switch c.Name {
	case SetMood:
		if !Mood(c.Text).Valid() {
			return fmt.Errorf("%w: unknown mood %q", ErrInvalidValue, c.Text)
		}
	case SetIsThinking:
	case SetIntensity:
		if !(c.Float >= MinIntensity && c.Float <= MaxIntensity) {
			return fmt.Errorf("%w: intensity %v outside [%v, %v]", ErrInvalidValue, c.Float, MinIntensity, MaxIntensity)
		}
	case SetLastMessage:
		if jsLength(c.Text) > MaxLastMessageLen {
			return fmt.Errorf("%w: message longer than %d", ErrInvalidValue, MaxLastMessageLen)
		}
	case SetActiveCharacterID:
		if n := jsLength(c.Text); n < 1 || n > MaxCharacterIDLen {
			return fmt.Errorf("%w: character id length %d outside [1, %d]", ErrInvalidValue, n, MaxCharacterIDLen)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCommand, c.Name)
	}
	return nil
}

// jsLength counts UTF-16 code units, matching String.length in the browser.
func jsLength(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
			continue
		}
		n++
	}
	return n
}

type jsonKind int

const (
	kindMissing jsonKind = iota
	kindNull
	kindString
	kindBool
	kindNumber
	kindOther
)

func kindOf(raw json.RawMessage) jsonKind {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return kindMissing
	}
	switch c := raw[0]; {
	case c == '"':
		return kindString
	case c == 't' || c == 'f':
		return kindBool
	case c == 'n':
		return kindNull
	case c == '-' || (c >= '0' && c <= '9'):
		return kindNumber
	default:
		return kindOther
	}
}
