package state

import (
	"sync"
)

// Defaults used by a fresh store.
const (
	DefaultMood              = "calm"
	DefaultIntensity         = 0.5
	DefaultActiveCharacterID = "happy-idle"
)

// Snapshot is a copy of the avatar state at one point in time.
type Snapshot struct {
	Mood              string  `json:"mood"`
	IsThinking        bool    `json:"isThinking"`
	Intensity         float64 `json:"intensity"`
	LastMessage       string  `json:"lastMessage"`
	ActiveCharacterID string  `json:"activeCharacterId"`
}

// Listener is notified after every mutation.
type Listener func(Snapshot)

// Store holds the shared avatar state mutated by control commands.
type Store struct {
	mu        sync.RWMutex
	snap      Snapshot
	listeners []Listener
}

// New creates a store with the viewer's default values.
func New() *Store {
	return &Store{
		snap: Snapshot{
			Mood:              DefaultMood,
			Intensity:         DefaultIntensity,
			ActiveCharacterID: DefaultActiveCharacterID,
		},
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// OnChange registers a listener.
func (s *Store) OnChange(fn Listener) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// SetMood updates the mood.
func (s *Store) SetMood(mood string) {
	s.update(func(snap *Snapshot) { snap.Mood = mood })
}

// SetIsThinking updates the thinking flag.
func (s *Store) SetIsThinking(thinking bool) {
	s.update(func(snap *Snapshot) { snap.IsThinking = thinking })
}

// SetIntensity updates the animation intensity.
func (s *Store) SetIntensity(intensity float64) {
	s.update(func(snap *Snapshot) { snap.Intensity = intensity })
}

// SetLastMessage updates the last displayed message.
func (s *Store) SetLastMessage(message string) {
	s.update(func(snap *Snapshot) { snap.LastMessage = message })
}

// SetActiveCharacterID switches the displayed character.
func (s *Store) SetActiveCharacterID(id string) {
	s.update(func(snap *Snapshot) { snap.ActiveCharacterID = id })
}

func (s *Store) update(mutate func(*Snapshot)) {
	s.mu.Lock()
	mutate(&s.snap)
	snap := s.snap
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
