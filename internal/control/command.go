package control

import (
	"encoding/json"
	"fmt"
)

// Name identifies one of the recognized state mutations.
type Name string

const (
	SetMood              Name = "setMood"
	SetIsThinking        Name = "setIsThinking"
	SetIntensity         Name = "setIntensity"
	SetLastMessage       Name = "setLastMessage"
	SetActiveCharacterID Name = "setActiveCharacterId"
)

// Names lists the closed command set in a stable order.
var Names = []Name{SetMood, SetIsThinking, SetIntensity, SetLastMessage, SetActiveCharacterID}

// Known reports whether name belongs to the closed command set.
func (n Name) Known() bool {
	switch n {
	case SetMood, SetIsThinking, SetIntensity, SetLastMessage, SetActiveCharacterID:
		return true
	default:
		return false
	}
}

// Mood is the avatar's presentation mood.
type Mood string

const (
	MoodCalm      Mood = "calm"
	MoodExcited   Mood = "excited"
	MoodThinking  Mood = "thinking"
	MoodListening Mood = "listening"
)

// Valid reports whether m is one of the enumerated moods.
func (m Mood) Valid() bool {
	switch m {
	case MoodCalm, MoodExcited, MoodThinking, MoodListening:
		return true
	default:
		return false
	}
}

const (
	// MinIntensity and MaxIntensity bound setIntensity, both inclusive.
	MinIntensity = 0.0
	MaxIntensity = 2.0
	// MaxLastMessageLen caps setLastMessage in UTF-16 code units.
	MaxLastMessageLen = 500
	// MaxCharacterIDLen caps setActiveCharacterId in UTF-16 code units.
	MaxCharacterIDLen = 64
)

// Command is a validated control instruction. Exactly one of the value
// fields is meaningful, selected by Name.
type Command struct {
	Name  Name
	ID    string
	Text  string
	Bool  bool
	Float float64
}

// wireCommand keeps the field names used by the browser side.
type wireCommand struct {
	Command Name   `json:"command"`
	Value   any    `json:"value"`
	ID      string `json:"id,omitempty"`
}

// Value returns the typed payload for the command.
func (c Command) Value() any {
	switch c.Name {
	case SetIsThinking:
		return c.Bool
	case SetIntensity:
		return c.Float
	default:
		return c.Text
	}
}

// MarshalJSON encodes the command in its wire form.
func (c Command) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireCommand{Command: c.Name, Value: c.Value(), ID: c.ID})
}

// UnmarshalJSON decodes and validates the wire form.
func (c *Command) UnmarshalJSON(data []byte) error {
	cmd, err := Decode(data)
	if err != nil {
		return err
	}
	*c = cmd
	return nil
}

func (c Command) String() string {
	if c.ID == "" {
		return fmt.Sprintf("%s(%v)", c.Name, c.Value())
	}
	return fmt.Sprintf("%s(%v)#%s", c.Name, c.Value(), c.ID)
}

// NewMood builds a setMood command.
func NewMood(mood Mood, id string) Command {
	return Command{Name: SetMood, Text: string(mood), ID: id}
}

// NewThinking builds a setIsThinking command.
func NewThinking(thinking bool, id string) Command {
	return Command{Name: SetIsThinking, Bool: thinking, ID: id}
}

// NewIntensity builds a setIntensity command.
func NewIntensity(intensity float64, id string) Command {
	return Command{Name: SetIntensity, Float: intensity, ID: id}
}

// NewLastMessage builds a setLastMessage command.
func NewLastMessage(message string, id string) Command {
	return Command{Name: SetLastMessage, Text: message, ID: id}
}

// NewActiveCharacter builds a setActiveCharacterId command.
func NewActiveCharacter(characterID string, id string) Command {
	return Command{Name: SetActiveCharacterID, Text: characterID, ID: id}
}
