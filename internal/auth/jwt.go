// Package auth turns bearer tokens issued by the account system into
// domain principals. Token issuance lives in the account system; Issue is
// provided for tooling and tests.
package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/tbourn/go-jobboard-chat/internal/domain"
)

var (
	// ErrMissing is returned when no credentials were presented.
	ErrMissing = errors.New("authentication missing")
	// ErrInvalid is returned for malformed, expired or badly signed tokens,
	// and for tokens whose claims do not name a principal.
	ErrInvalid = errors.New("authentication invalid")
)

// flexID accepts both JSON strings and numbers; account ids are numeric in
// tokens minted by older clients.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// Claims is the token payload: the account type plus the id of that account.
type Claims struct {
	AccountType string `json:"accountType"`
	UserID      flexID `json:"userId,omitempty"`
	CompanyID   flexID `json:"companyId,omitempty"`
	jwt.RegisteredClaims
}

// Principal maps the claims onto a domain principal.
func (c Claims) Principal() (domain.Principal, error) {
	kind, err := domain.ParseRole(c.AccountType)
	if err != nil {
		return domain.Principal{}, ErrInvalid
	}
	p := domain.Principal{Kind: kind, ID: string(c.UserID)}
	if kind == domain.RoleCompany {
		p.ID = string(c.CompanyID)
	}
	if !p.Valid() {
		return domain.Principal{}, ErrInvalid
	}
	return p, nil
}

// Verifier validates HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier returns a Verifier for secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Verify parses and validates token and returns its principal.
func (v *Verifier) Verify(token string) (domain.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Principal{}, ErrMissing
	}
	if len(v.secret) == 0 {
		return domain.Principal{}, ErrInvalid
	}

	var claims Claims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return domain.Principal{}, ErrInvalid
	}
	return claims.Principal()
}

// Issue signs a token for p valid for ttl.
func (v *Verifier) Issue(p domain.Principal, ttl time.Duration) (string, error) {
	if !p.Valid() {
		return "", ErrInvalid
	}
	now := v.now()
	claims := Claims{
		AccountType: string(p.Kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Key(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if p.Kind == domain.RoleCompany {
		claims.CompanyID = flexID(p.ID)
	} else {
		claims.UserID = flexID(p.ID)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken extracts the token from an Authorization header value.
// It returns "" when the header is absent or uses another scheme.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
