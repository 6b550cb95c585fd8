package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/Tyrowin/roomchat/internal/domain"
	"github.com/Tyrowin/roomchat/internal/store"
)

// Authenticator is the gate every connection passes before admission.
type Authenticator struct {
	tokens *Tokens
	users  store.Users
}

// NewAuthenticator returns an authenticator resolving token subjects
// through users.
func NewAuthenticator(tokens *Tokens, users store.Users) *Authenticator {
	return &Authenticator{tokens: tokens, users: users}
}

// Authenticate resolves credential to an identity. The display name comes
// from the user record, not from the token.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (domain.Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return domain.Identity{}, ErrUnauthenticated
	}

	claims, err := a.tokens.Verify(credential)
	if err != nil {
		return domain.Identity{}, err
	}

	user, err := a.users.UserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return domain.Identity{}, ErrInvalidCredential
		}
		return domain.Identity{}, err
	}
	return user.Identity(), nil
}

// CredentialFromRequest extracts a bearer token from the Authorization
// header, falling back to the "token" query parameter that browser
// WebSocket clients must use. A header with any other scheme is returned
// whole so that verification rejects it as an invalid credential.
func CredentialFromRequest(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
		return header
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
