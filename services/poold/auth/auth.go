package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"basketpool/crypto"
)

type contextKey string

const contextKeyCaller contextKey = "pool_caller"

var (
	ErrMissingToken = errors.New("auth: missing bearer token")
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrNoCaller     = errors.New("auth: no authenticated caller")
)

// Options controls token issuance and verification. Tokens are HS256 signed
// and carry the caller address as subject.
type Options struct {
	Secret   []byte
	Issuer   string
	Audience string
	MaxSkew  time.Duration
}

// Issue signs a token for caller valid for ttl.
func Issue(opts Options, caller crypto.Address, ttl time.Duration, now time.Time) (string, error) {
	if len(opts.Secret) == 0 {
		return "", errors.New("auth: signing secret required")
	}
	if caller.IsZero() {
		return "", errors.New("auth: caller address required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := jwt.RegisteredClaims{
		Subject:   caller.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if opts.Issuer != "" {
		claims.Issuer = opts.Issuer
	}
	if opts.Audience != "" {
		claims.Audience = jwt.ClaimStrings{opts.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(opts.Secret)
}

// Verifier turns bearer tokens into caller addresses.
type Verifier struct {
	opts   Options
	parser *jwt.Parser
}

func NewVerifier(opts Options) (*Verifier, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("auth: verification secret required")
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(opts.MaxSkew),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	return &Verifier{opts: opts, parser: jwt.NewParser(parserOpts...)}, nil
}

// Verify parses raw and returns the caller named by its subject.
func (v *Verifier) Verify(raw string) (crypto.Address, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.opts.Secret, nil
	})
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	caller, err := crypto.DecodeAddress(claims.Subject)
	if err != nil || caller.IsZero() {
		return crypto.Address{}, fmt.Errorf("%w: subject is not an address", ErrInvalidToken)
	}
	return caller, nil
}

// Middleware authenticates the Authorization header when present. Requests
// without a token pass through anonymously; handlers that need a caller use
// Require or FromContext.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearer(r)
		if errors.Is(err, ErrMissingToken) {
			next.ServeHTTP(w, r)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		caller, err := v.Verify(raw)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// Require rejects requests that carry no authenticated caller.
func Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := FromContext(r.Context()); err != nil {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearer(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		// Browsers cannot set headers on websocket upgrades.
		if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
			return token, nil
		}
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("malformed authorization header")
	}
	return strings.TrimSpace(token), nil
}

func WithCaller(ctx context.Context, caller crypto.Address) context.Context {
	return context.WithValue(ctx, contextKeyCaller, caller)
}

// FromContext returns the authenticated caller.
func FromContext(ctx context.Context) (crypto.Address, error) {
	caller, ok := ctx.Value(contextKeyCaller).(crypto.Address)
	if !ok || caller.IsZero() {
		return crypto.Address{}, ErrNoCaller
	}
	return caller, nil
}
