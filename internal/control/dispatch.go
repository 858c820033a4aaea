package control

// Setter is the state container the dispatcher mutates.
type Setter interface {
	SetMood(mood string)
	SetIsThinking(thinking bool)
	SetIntensity(intensity float64)
	SetLastMessage(message string)
	SetActiveCharacterID(id string)
}

type commandHandler func(Setter, Command)

// Dispatcher maps validated commands onto exactly one setter call each.
type Dispatcher struct {
	target   Setter
	handlers map[Name]commandHandler
}

// NewDispatcher binds a dispatcher to target.
func NewDispatcher(target Setter) *Dispatcher {
	return &Dispatcher{
		target: target,
		handlers: map[Name]commandHandler{
			SetMood:              func(s Setter, c Command) { s.SetMood(c.Text) },
			SetIsThinking:        func(s Setter, c Command) { s.SetIsThinking(c.Bool) },
			SetIntensity:         func(s Setter, c Command) { s.SetIntensity(c.Float) },
			SetLastMessage:       func(s Setter, c Command) { s.SetLastMessage(c.Text) },
			SetActiveCharacterID: func(s Setter, c Command) { s.SetActiveCharacterID(c.Text) },
		},
	}
}

// Dispatch applies cmd and reports whether a setter was called. Unknown
// names are ignored.
func (d *Dispatcher) Dispatch(cmd Command) bool {
	handler, ok := d.handlers[cmd.Name]
	if !ok || d.target == nil {
		return false
	}
	handler(d.target, cmd)
	return true
}
