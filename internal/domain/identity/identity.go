package identity

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrIdentityNotFound = errors.New("identity: not found")
	ErrInvalidToken     = errors.New("identity: invalid token")
)

type UserID string

// Identity is a verified account from the external identity provider. The
// core trusts only the ID for authorization; the display fields exist so
// listings and conversations can denormalize them for rendering.
type Identity struct {
	ID          UserID
	DisplayName string
	Email       string
	PhotoRef    string
}

func (i Identity) Label() string {
	if name := strings.TrimSpace(i.DisplayName); name != "" {
		return name
	}
	if i.Email != "" {
		return i.Email
	}
	return string(i.ID)
}

// Directory reads identity records synced from the provider.
type Directory interface {
	ByID(ctx context.Context, id UserID) (Identity, error)
	ByEmail(ctx context.Context, email string) (Identity, error)
}

// TokenVerifier resolves a bearer token into a verified identity. The
// verification itself happens outside the core; implementations only map an
// already-issued token onto a directory record.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}
