package auth

import (
	"net/http"
	"strings"

	"github.com/tbourn/go-jobboard-chat/internal/domain"
)

// Header names accepted in development handshakes.
const (
	HeaderPrincipalID   = "X-Principal-ID"
	HeaderPrincipalType = "X-Principal-Type"
)

// Authenticator resolves the principal of an HTTP request or websocket
// handshake.
//
// Lookup order: Authorization bearer token, then the "token" query
// parameter (browsers cannot set headers on websocket upgrades). When
// DevHeaders is set, a raw {id, type} pair from the X-Principal-* headers
// or the id/type query parameters is accepted as well; that mode trusts
// the client and must stay off in production.
type Authenticator struct {
	Verifier   *Verifier
	DevHeaders bool
}

// FromRequest returns the principal for r, ErrMissing when no credentials
// were presented and ErrInvalid when they do not check out.
func (a *Authenticator) FromRequest(r *http.Request) (domain.Principal, error) {
	if tok := BearerToken(r.Header.Get("Authorization")); tok != "" {
		return a.verify(tok)
	}
	if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
		return a.verify(tok)
	}
	if !a.DevHeaders {
		return domain.Principal{}, ErrMissing
	}

	id := strings.TrimSpace(r.Header.Get(HeaderPrincipalID))
	kind := strings.TrimSpace(r.Header.Get(HeaderPrincipalType))
	if id == "" && kind == "" {
		q := r.URL.Query()
		id, kind = strings.TrimSpace(q.Get("id")), strings.TrimSpace(q.Get("type"))
	}
	if id == "" || kind == "" {
		return domain.Principal{}, ErrMissing
	}
	role, err := domain.ParseRole(kind)
	if err != nil {
		return domain.Principal{}, ErrInvalid
	}
	return domain.Principal{Kind: role, ID: id}, nil
}

func (a *Authenticator) verify(tok string) (domain.Principal, error) {
	if a.Verifier == nil {
		return domain.Principal{}, ErrInvalid
	}
	return a.Verifier.Verify(tok)
}
