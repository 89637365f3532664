// Package preferences keeps per-user UI preferences in the shared store so
// every tab of the user sees the same choices.
package preferences

import (
	"encoding/json"
	"fmt"

	"github.com/jrsteele09/go-session-guard/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Store reads and writes preferences for any user.
type Store struct {
	kv storage.Store
}

// New wraps kv.
func New(kv storage.Store) *Store {
	return &Store{kv: kv}
}

func selectedAgentsKey(userID string) string {
	return fmt.Sprintf("user-%s-selected-agents", userID)
}

func chatPreferencesKey(userID string) string {
	return fmt.Sprintf("user-%s-chat-preferences", userID)
}

// SelectedAgents returns the agent ids the user picked. Missing or
// unreadable values read as empty.
func (s *Store) SelectedAgents(userID string) ([]int, error) {
	agents, err := load[[]int](s, selectedAgentsKey(userID))
	if err != nil {
		return nil, err
	}
	if agents == nil {
		agents = []int{}
	}
	return agents, nil
}

// SaveSelectedAgents replaces the user's agent selection.
func (s *Store) SaveSelectedAgents(userID string, agents []int) error {
	if agents == nil {
		agents = []int{}
	}
	return s.save(selectedAgentsKey(userID), agents)
}

// ChatPreferences returns the user's chat settings. Missing or unreadable
// values read as empty.
func (s *Store) ChatPreferences(userID string) (map[string]any, error) {
	prefs, err := load[map[string]any](s, chatPreferencesKey(userID))
	if err != nil {
		return nil, err
	}
	if prefs == nil {
		prefs = map[string]any{}
	}
	return prefs, nil
}

// SaveChatPreferences replaces the user's chat settings.
func (s *Store) SaveChatPreferences(userID string, prefs map[string]any) error {
	if prefs == nil {
		prefs = map[string]any{}
	}
	return s.save(chatPreferencesKey(userID), prefs)
}

// load decodes the value under key. A value that does not decode in full
// reads as the zero T.
func load[T any](s *Store, key string) (T, error) {
	var zero T
	raw, ok, err := s.kv.Get(key)
	if err != nil {
		return zero, errors.Wrapf(err, "[preferences] read %s", key)
	}
	if !ok {
		return zero, nil
	}
	var value T
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Ignoring unreadable preference")
		return zero, nil
	}
	return value, nil
}

func (s *Store) save(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "[preferences] encode %s", key)
	}
	return errors.Wrapf(s.kv.Set(key, string(data)), "[preferences] write %s", key)
}
