package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"repovault/internal/core"
	"repovault/internal/model"
)

var (
	// ErrInvalidCredentials is returned for a bad username/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenMalformed is returned for tokens that fail to parse or verify.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenExpired is returned for well-formed tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked is returned for tokens on the denylist.
	ErrTokenRevoked = errors.New("token revoked")
)

// Gate issues and validates bearer sessions for the single configured
// operator credential pair. Sessions are stateless JWTs; revocation is a
// persisted denylist of token ids consulted on every validation.
type Gate struct {
	username   []byte
	password   []byte
	signingKey []byte
	issuer     string
	ttl        time.Duration
	store      core.StateStore
	ledger     core.Ledger
	clock      core.Clock
	idgen      core.IDGenerator
	logger     core.Logger
}

// NewGate creates a Gate with the provided dependencies.
func NewGate(username, password, signingKey, issuer string, ttl time.Duration, store core.StateStore, ledger core.Ledger, clock core.Clock, idgen core.IDGenerator, logger core.Logger) *Gate {
	return &Gate{
		username:   []byte(username),
		password:   []byte(password),
		signingKey: []byte(signingKey),
		issuer:     issuer,
		ttl:        ttl,
		store:      store,
		ledger:     ledger,
		clock:      clock,
		idgen:      idgen,
		logger:     logger,
	}
}

// Login checks the credential pair and issues a signed session token.
func (g *Gate) Login(ctx context.Context, username, password string) (string, *model.Session, error) {
	// Both fields are always compared so response timing does not reveal
	// which one was wrong.
	userOK := subtle.ConstantTimeCompare([]byte(username), g.username) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), g.password) == 1
	if !userOK || !passOK {
		g.audit(ctx, username, ErrInvalidCredentials, map[string]any{"action": "login"})
		return "", nil, core.AuthenticationFailure(ErrInvalidCredentials)
	}

	now := g.clock.Now()
	session := &model.Session{
		TokenID:   g.idgen.New(),
		Subject:   username,
		IssuedAt:  now,
		ExpiresAt: now.Add(g.ttl),
	}

	claims := jwt.RegisteredClaims{
		ID:        session.TokenID,
		Issuer:    g.issuer,
		Subject:   session.Subject,
		IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.signingKey)
	if err != nil {
		return "", nil, fmt.Errorf("signing token: %w", err)
	}

	g.audit(ctx, username, nil, map[string]any{"action": "login", "token_id": session.TokenID})
	g.logger.Info("session issued", "subject", username, "token_id", session.TokenID, "expires_at", session.ExpiresAt)
	return token, session, nil
}

// Validate verifies a bearer token and returns its session. Expired,
// malformed and revoked tokens each get their own error so the API
// layer can report them distinctly.
func (g *Gate) Validate(ctx context.Context, token string) (*model.Session, error) {
	claims, err := g.parse(token)
	if err != nil {
		return nil, err
	}

	revoked, err := g.store.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("checking revocation: %w", err)
	}
	if revoked {
		return nil, core.AuthenticationFailure(ErrTokenRevoked)
	}

	return &model.Session{
		TokenID:   claims.ID,
		Subject:   claims.Subject,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Revoke puts a token on the denylist. Revoking an already revoked or
// expired token is a no-op.
func (g *Gate) Revoke(ctx context.Context, token string) error {
	claims, err := g.parse(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			// Expired tokens are already unusable.
			return nil
		}
		return err
	}

	if err := g.store.RevokeToken(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	g.audit(ctx, claims.Subject, nil, map[string]any{"action": "logout", "token_id": claims.ID})
	g.logger.Info("session revoked", "subject", claims.Subject, "token_id", claims.ID)
	return nil
}

func (g *Gate) parse(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.signingKey, nil
	},
		jwt.WithIssuer(g.issuer),
		jwt.WithTimeFunc(g.clock.Now),
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, core.AuthenticationFailure(ErrTokenExpired)
		}
		return nil, core.AuthenticationFailure(fmt.Errorf("%w: %v", ErrTokenMalformed, err))
	}
	if !parsed.Valid || claims.ID == "" {
		return nil, core.AuthenticationFailure(ErrTokenMalformed)
	}
	return claims, nil
}

func (g *Gate) audit(ctx context.Context, subject string, taskErr error, detail map[string]any) {
	if g.ledger == nil {
		return
	}
	event := &model.AuditEvent{
		ID:        g.idgen.New(),
		Timestamp: g.clock.Now(),
		Category:  model.CategoryAuth,
		Subject:   subject,
		Outcome:   model.OutcomeSuccess,
		Detail:    detail,
	}
	if taskErr != nil {
		event.Outcome = model.OutcomeFailure
		event.Error = taskErr.Error()
	}
	if err := g.ledger.Append(ctx, event); err != nil {
		g.logger.Error("appending audit event failed", "subject", subject, "error", err)
	}
}
