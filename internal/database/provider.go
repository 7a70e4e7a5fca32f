package database

import (
	"context"
	"errors"
	"sync"
)

// Backend bundles the repositories of one storage backend.
type Backend struct {
	Identities func() IdentityWriter
	Decisions  func() DecisionStore
	Settings   func() SettingsStore
	Admins     func() AdminStore
	Sessions   func() SessionStore
}

var (
	backendMu sync.RWMutex
	backend   *Backend
)

var errNotInitialized = errors.New("PostgreSQL backend not initialized: DATABASE_URL is required")

// RegisterBackend registers repository constructors.
// This is called by the postgres package to avoid import cycles.
func RegisterBackend(b *Backend) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backend = b
}

// IsInitialized returns whether a backend has been registered.
func IsInitialized() bool {
	backendMu.RLock()
	defer backendMu.RUnlock()
	return backend != nil
}

func current() (*Backend, error) {
	backendMu.RLock()
	defer backendMu.RUnlock()
	if backend == nil {
		return nil, errNotInitialized
	}
	return backend, nil
}

// GetIdentityWriter returns the registered identity repository
func GetIdentityWriter(ctx context.Context) (IdentityWriter, error) {
	b, err := current()
	if err != nil {
		return nil, err
	}
	if b.Identities == nil {
		return nil, errors.New("identity repository not registered")
	}
	return b.Identities(), nil
}

// GetDecisionStore returns the registered decision repository
func GetDecisionStore(ctx context.Context) (DecisionStore, error) {
	b, err := current()
	if err != nil {
		return nil, err
	}
	if b.Decisions == nil {
		return nil, errors.New("decision repository not registered")
	}
	return b.Decisions(), nil
}

// GetSettingsStore returns the registered settings repository
func GetSettingsStore(ctx context.Context) (SettingsStore, error) {
	b, err := current()
	if err != nil {
		return nil, err
	}
	if b.Settings == nil {
		return nil, errors.New("settings repository not registered")
	}
	return b.Settings(), nil
}

// GetAdminStore returns the registered admin repository
func GetAdminStore(ctx context.Context) (AdminStore, error) {
	b, err := current()
	if err != nil {
		return nil, err
	}
	if b.Admins == nil {
		return nil, errors.New("admin repository not registered")
	}
	return b.Admins(), nil
}

// GetSessionStore returns the registered session repository
func GetSessionStore(ctx context.Context) (SessionStore, error) {
	b, err := current()
	if err != nil {
		return nil, err
	}
	if b.Sessions == nil {
		return nil, errors.New("session repository not registered")
	}
	return b.Sessions(), nil
}
