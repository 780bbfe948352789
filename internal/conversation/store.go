package conversation

import (
	"sort"
	"sync"
	"time"

	"github.com/athenasql/athenasql/internal/observability"
)

type conversationState struct {
	mode         Mode
	lastActivity time.Time
	cycles       uint64
	holders      int
	cycle        sync.Mutex
}

// Store keeps conversation modes in memory. The map is guarded by mu; each
// conversation also has its own lock that serializes the events handled
// for it.
type Store struct {
	mu            sync.Mutex
	conversations map[string]*conversationState
	now           func() time.Time
}

type Snapshot struct {
	Key          string    `json:"key"`
	Mode         string    `json:"mode"`
	LastActivity time.Time `json:"last_activity"`
	Cycles       uint64    `json:"cycles"`
	Busy         bool      `json:"busy"`
}

func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{conversations: map[string]*conversationState{}, now: now}
}

// entry returns the state for key, creating it. Callers hold s.mu.
func (s *Store) entry(key string) *conversationState {
	state, ok := s.conversations[key]
	if !ok {
		state = &conversationState{lastActivity: s.now()}
		s.conversations[key] = state
		observability.SetTrackedConversations(len(s.conversations))
	}
	return state
}

// Lock acquires the per-conversation lock for key and returns its release
// function. A locked conversation is never swept.
func (s *Store) Lock(key string) func() {
	s.mu.Lock()
	state := s.entry(key)
	state.holders++
	s.mu.Unlock()

	state.cycle.Lock()
	return func() {
		state.cycle.Unlock()
		s.mu.Lock()
		state.holders--
		state.lastActivity = s.now()
		s.mu.Unlock()
	}
}

// Touch records activity for key without changing its mode.
func (s *Store) Touch(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(key).lastActivity = s.now()
}

// Select stores mode for key, overwriting any earlier selection.
func (s *Store) Select(key string, mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.entry(key)
	state.mode = mode
	state.lastActivity = s.now()
}

// Take returns the mode selected for key and resets it to ModeUnset in the
// same critical section.
func (s *Store) Take(key string) Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.conversations[key]
	if !ok {
		return ModeUnset
	}
	mode := state.mode
	state.mode = ModeUnset
	state.lastActivity = s.now()
	return mode
}

func (s *Store) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.conversations[key]; ok {
		state.mode = ModeUnset
	}
}

// Mode reports the mode selected for key without consuming it.
func (s *Store) Mode(key string) Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.conversations[key]; ok {
		return state.mode
	}
	return ModeUnset
}

// CompleteCycle counts a finished question cycle and returns the new total.
func (s *Store) CompleteCycle(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.entry(key)
	state.cycles++
	state.lastActivity = s.now()
	return state.cycles
}

// Sweep drops idle, unlocked conversations and returns how many it removed.
func (s *Store) Sweep(idleTTL time.Duration) int {
	if idleTTL <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-idleTTL)
	removed := 0
	for key, state := range s.conversations {
		if state.holders > 0 || state.lastActivity.After(cutoff) {
			continue
		}
		delete(s.conversations, key)
		removed++
	}
	observability.SetTrackedConversations(len(s.conversations))
	return removed
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

func (s *Store) Snapshot() []Snapshot {
	s.mu.Lock()
	out := make([]Snapshot, 0, len(s.conversations))
	for key, state := range s.conversations {
		out = append(out, Snapshot{
			Key:          key,
			Mode:         state.mode.String(),
			LastActivity: state.lastActivity,
			Cycles:       state.cycles,
			Busy:         state.holders > 0,
		})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
