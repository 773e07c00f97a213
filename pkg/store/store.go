package store

import (
	"encoding/json"
	"os"
	"time"

	"github.com/fleet-tools/botfleet/pkg/errors"
	"github.com/fleet-tools/botfleet/pkg/logging"
)

// DefaultPath is the backing store file used when none is configured.
const DefaultPath = "data.json"

// Defaults applied to optional record fields.
const (
	DefaultMsgChance   = 5
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.7
)

// BotConfig is one declared worker record from the backing store. Optional
// fields are pointers so that an absent key can be told apart from an
// explicit zero.
type BotConfig struct {
	BotToken    string   `json:"bot_token"`
	Model       string   `json:"model"`
	Personality string   `json:"personality"`
	MsgChance   *int     `json:"msg_chance,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// Chance returns the response probability percentage with the default applied.
func (c BotConfig) Chance() int {
	if c.MsgChance == nil {
		return DefaultMsgChance
	}
	return *c.MsgChance
}

// TokenBudget returns the completion token budget with the default applied.
func (c BotConfig) TokenBudget() int {
	if c.MaxTokens == nil {
		return DefaultMaxTokens
	}
	return *c.MaxTokens
}

// SamplingTemperature returns the sampling temperature with the default applied.
func (c BotConfig) SamplingTemperature() float64 {
	if c.Temperature == nil {
		return DefaultTemperature
	}
	return *c.Temperature
}

// Equal reports whether two records declare the same worker content.
// Content inequality is what triggers a restart for a slot.
func (c BotConfig) Equal(other BotConfig) bool {
	return c.BotToken == other.BotToken &&
		c.Model == other.Model &&
		c.Personality == other.Personality &&
		c.Chance() == other.Chance() &&
		c.TokenBudget() == other.TokenBudget() &&
		c.SamplingTemperature() == other.SamplingTemperature()
}

// DeclaredState is the worker list as read from the backing store. Slots
// holds only the records that passed validation, keyed by their position in
// the stored list, so that a skipped record never shifts the identity of
// the records after it. Size is the stored list length including skipped
// records.
type DeclaredState struct {
	Size  int
	Slots map[int]BotConfig
}

// EmptyState returns a declared state with no workers.
func EmptyState() DeclaredState {
	return DeclaredState{Slots: make(map[int]BotConfig)}
}

// Equal reports whether two declared states have the same valid records in
// the same slots. Reconciliation of equal states is a no-op.
func (s DeclaredState) Equal(other DeclaredState) bool {
	if len(s.Slots) != len(other.Slots) {
		return false
	}
	for slot, config := range s.Slots {
		otherConfig, ok := other.Slots[slot]
		if !ok || !config.Equal(otherConfig) {
			return false
		}
	}
	return true
}

// Marker is an opaque change-detection marker for the backing store.
// Markers are strictly ordered: a reported change always carries a marker
// that exceeds the previous one.
type Marker struct {
	modTime time.Time
}

// Store reads the declared worker list from a JSON file. The file is an
// ordered array of flat records and is replaced wholesale on every write,
// never appended to.
type Store struct {
	path   string
	logger logging.Logger
}

func NewStore(path string, logger logging.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger,
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads and validates the whole store. Records missing a required
// field are logged and skipped; they do not abort the load. A missing file
// yields a StoreMissing error, unparsable content a StoreCorrupt error;
// both are recoverable by treating the fleet as empty.
func (s *Store) Load() (DeclaredState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return EmptyState(), errors.NewStoreMissingError("bot store not found", err).WithContext("path", s.path)
		}
		return EmptyState(), errors.NewIOError("failed to read bot store", err).WithContext("path", s.path)
	}

	var records []BotConfig
	if err := json.Unmarshal(data, &records); err != nil {
		return EmptyState(), errors.NewStoreCorruptError("bot store is not a JSON list of bot records", err).WithContext("path", s.path)
	}

	state := DeclaredState{
		Size:  len(records),
		Slots: make(map[int]BotConfig, len(records)),
	}
	for slot, record := range records {
		if err := ValidateBotConfig(record); err != nil {
			s.logger.Warnf("Skipping invalid bot record, slot: %d, error: %v", slot, err)
			continue
		}
		state.Slots[slot] = normalizeBotConfig(record, slot, s.logger)
	}

	return state, nil
}

// Record reads a single slot's record, re-validating the store. This is
// what a worker process uses to load its own configuration by index.
func (s *Store) Record(slot int) (BotConfig, error) {
	state, err := s.Load()
	if err != nil {
		return BotConfig{}, err
	}

	config, ok := state.Slots[slot]
	if !ok {
		if slot < 0 || slot >= state.Size {
			return BotConfig{}, errors.NewNotFoundError("bot slot out of range", nil).
				WithContext("slot", slot).WithContext("size", state.Size)
		}
		return BotConfig{}, errors.NewValidationError("bot slot holds an invalid record", nil).WithContext("slot", slot)
	}
	return config, nil
}

// HasChangedSince is a cheap modification check against the file mtime so
// the polling loop does not re-parse an unchanged store. The returned
// marker only advances.
func (s *Store) HasChangedSince(marker Marker) (bool, Marker) {
	info, err := os.Stat(s.path)
	if err != nil {
		return false, marker
	}

	modTime := info.ModTime()
	if modTime.After(marker.modTime) {
		return true, Marker{modTime: modTime}
	}
	return false, marker
}

// CurrentMarker captures the store's present modification marker without
// reporting a change.
func (s *Store) CurrentMarker() Marker {
	info, err := os.Stat(s.path)
	if err != nil {
		return Marker{}
	}
	return Marker{modTime: info.ModTime()}
}
