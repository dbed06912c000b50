// Package store persists named client credentials: the session cookie set,
// the OAuth bearer token, and the short-lived JWT. Values are opaque strings
// addressed by a small fixed set of names; a set always replaces the previous
// value wholesale.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Credential names used by the request pipeline.
const (
	// KeyCookies holds the JSON-encoded session cookie set.
	KeyCookies = "Cookies"
	// KeyBearer holds the OAuth bearer token.
	KeyBearer = "Bearer"
	// KeyJWT holds the short-lived grant token.
	KeyJWT = "JWT"
)

// Store is opaque get/set/delete of named string values. Implementations
// must be safe for concurrent use; every mutation is an atomic full
// replacement of the named value.
type Store interface {
	Get(name string) string
	Set(name, value string)
	Delete(name string)
	Clear()
}

// Memory is an in-process Store with no persistence.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory creates an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// Get returns the value stored under name, or empty string.
func (m *Memory) Get(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[name]
}

// Set stores value under name, replacing any previous value.
func (m *Memory) Set(name, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
}

// Delete removes the value stored under name.
func (m *Memory) Delete(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, name)
}

// Clear removes all stored values.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string]string)
}

// File is a Store backed by a JSON file. Every mutation is written through
// to disk with an atomic write (temp file, then rename) to prevent
// corruption on interrupted writes.
type File struct {
	mu     sync.RWMutex
	values map[string]string
	path   string
}

// NewFile creates a Store backed by the JSON file at path, loading any
// existing values. A missing file is not an error; it is created on the
// first mutation.
func NewFile(path string) (*File, error) {
	f := &File{
		values: make(map[string]string),
		path:   path,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("reading credential file %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &f.values); err != nil {
		return nil, fmt.Errorf("parsing credential file %s: %w", path, err)
	}
	return f, nil
}

// Get returns the value stored under name, or empty string.
func (f *File) Get(name string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.values[name]
}

// Set stores value under name and persists the store.
func (f *File) Set(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[name] = value
	f.save()
}

// Delete removes the value stored under name and persists the store.
func (f *File) Delete(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, name)
	f.save()
}

// Clear removes all stored values and persists the store.
func (f *File) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = make(map[string]string)
	f.save()
}

// save writes the values to disk. Callers must hold the write lock.
func (f *File) save() {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}

	data, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return
	}

	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return
	}
	os.Rename(tmpPath, f.path)
}
