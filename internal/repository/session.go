package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrSessionNotFound is returned when a conversation was never initialized with a payment.
var ErrSessionNotFound = errors.New("repository: session not found")

// ErrSessionExists is returned by SaveIfAbsent when the conversation already has a session.
var ErrSessionExists = errors.New("repository: session already exists")

// SessionStore correlates a conversation with its pending payment intent.
type SessionStore interface {
	Save(ctx context.Context, conversationID, paymentIntentID string) error
	SaveIfAbsent(ctx context.Context, conversationID, paymentIntentID string) error
	Get(ctx context.Context, conversationID string) (string, error)
	Delete(ctx context.Context, conversationID string) error
}

// MemoryStore is a process-local SessionStore. It is the only synchronization
// point for sessions, so concurrent requests for the same conversation
// serialize here.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]string)}
}

// Save inserts or overwrites the intent reference for a conversation.
func (s *MemoryStore) Save(_ context.Context, conversationID, paymentIntentID string) error {
	if err := validateSession(conversationID, paymentIntentID); err != nil {
		return fmt.Errorf("repository: Save: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[conversationID] = paymentIntentID
	return nil
}

// SaveIfAbsent stores the intent reference only when the conversation has none,
// checking and writing under one lock.
func (s *MemoryStore) SaveIfAbsent(_ context.Context, conversationID, paymentIntentID string) error {
	if err := validateSession(conversationID, paymentIntentID); err != nil {
		return fmt.Errorf("repository: SaveIfAbsent: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[conversationID]; ok {
		return ErrSessionExists
	}
	s.sessions[conversationID] = paymentIntentID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, conversationID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sessions[conversationID]
	if !ok {
		return "", ErrSessionNotFound
	}
	return id, nil
}

// Delete is a no-op when the conversation has no session.
func (s *MemoryStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, conversationID)
	return nil
}

// Len reports the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func validateSession(conversationID, paymentIntentID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("conversation id is required")
	}
	if strings.TrimSpace(paymentIntentID) == "" {
		return errors.New("payment intent id is required")
	}
	return nil
}

var _ SessionStore = (*MemoryStore)(nil)
