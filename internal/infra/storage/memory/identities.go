package memory

import (
	"context"
	"strings"
	"sync"

	"ticketexchange/internal/domain/identity"
)

// Directory is an in-memory identity lookup seeded at startup. It doubles
// as the token verifier for local runs, mapping static bearer tokens to
// seeded identities.
type Directory struct {
	mu      sync.RWMutex
	byID    map[identity.UserID]identity.Identity
	byEmail map[string]identity.UserID
	tokens  map[string]identity.UserID
}

func NewDirectory() *Directory {
	return &Directory{
		byID:    make(map[identity.UserID]identity.Identity),
		byEmail: make(map[string]identity.UserID),
		tokens:  make(map[string]identity.UserID),
	}
}

// Seed registers an identity and the bearer token that authenticates it.
// An empty token registers the identity for lookup only.
func (d *Directory) Seed(id identity.Identity, token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID[id.ID] = id
	if id.Email != "" {
		d.byEmail[strings.ToLower(id.Email)] = id.ID
	}
	if token != "" {
		d.tokens[token] = id.ID
	}
}

func (d *Directory) ByID(ctx context.Context, id identity.UserID) (identity.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	found, ok := d.byID[id]
	if !ok {
		return identity.Identity{}, identity.ErrIdentityNotFound
	}
	return found, nil
}

func (d *Directory) ByEmail(ctx context.Context, email string) (identity.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return identity.Identity{}, identity.ErrIdentityNotFound
	}
	return d.byID[id], nil
}

func (d *Directory) Verify(ctx context.Context, token string) (identity.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.tokens[token]
	if !ok {
		return identity.Identity{}, identity.ErrInvalidToken
	}
	return d.byID[id], nil
}
