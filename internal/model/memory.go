package model

import (
	"maps"
	"sync"
)

// RunMemory is the run-scoped knowledge the LLM collaborator maintains:
// facts observed on pages (field labels and the values that satisfy them)
// plus a reverse map from value hashes to raw secret values. Secrets never
// leave the process; only their hashes are persisted, and the reverse map is
// what lets a worker re-hydrate a password field on re-navigation.
type RunMemory struct {
	mu      sync.RWMutex
	facts   map[string]string
	secrets map[string]string // value hash -> raw value
}

// NewRunMemory returns an empty memory.
func NewRunMemory() *RunMemory {
	return &RunMemory{
		facts:   make(map[string]string),
		secrets: make(map[string]string),
	}
}

// Fact returns the value recorded for a field label.
func (m *RunMemory) Fact(label string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.facts[label]
	return v, ok
}

// SetFact records a field label and value. Reports whether memory changed.
func (m *RunMemory) SetFact(label, value string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.facts[label]; ok && old == value {
		return false
	}
	m.facts[label] = value
	return true
}

// Facts returns a copy of all recorded facts.
func (m *RunMemory) Facts() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.facts)
}

// RememberSecret stores a raw value under its hash for later re-hydration.
func (m *RunMemory) RememberSecret(hash, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[hash] = value
}

// SecretByHash resolves a previously remembered value from its hash.
func (m *RunMemory) SecretByHash(hash string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.secrets[hash]
	return v, ok
}
