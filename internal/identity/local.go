package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/starford/duet/internal/apperr"
	"github.com/starford/duet/internal/docstore"
	"github.com/starford/duet/internal/models"
	"github.com/starford/duet/internal/repository"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// LocalConfig configures the built-in provider.
type LocalConfig struct {
	Secret          []byte
	TokenTTL        time.Duration
	BcryptCost      int
	MaxFailedLogins int
	Lockout         time.Duration
}

// Local is an identity provider backed by the document store. Accounts live at
// accounts/{email}; tokens are HS256 JWTs whose IDs are revoked on sign-out.
type Local struct {
	store  *docstore.Store
	cfg    LocalConfig
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	failures map[string]*failureState
}

type failureState struct {
	count       int
	lockedUntil time.Time
}

type claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

type revokedToken struct {
	UID       string      `json:"uid"`
	ExpiresAt models.Time `json:"expiresAt"`
}

// NewLocal creates a local provider.
func NewLocal(store *docstore.Store, cfg LocalConfig, logger *slog.Logger) (*Local, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("identity: jwt secret is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.MaxFailedLogins <= 0 {
		cfg.MaxFailedLogins = 5
	}
	if cfg.Lockout <= 0 {
		cfg.Lockout = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		store:    store,
		cfg:      cfg,
		now:      store.Now,
		logger:   logger,
		failures: make(map[string]*failureState),
	}, nil
}

// SignUp registers an account and creates the principal's profile and directory entry.
func (l *Local) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	email = NormalizeEmail(email)
	displayName = strings.TrimSpace(displayName)
	if err := validation.Validate(email, validation.Required, is.EmailFormat); err != nil {
		return Session{}, fmt.Errorf("email: %v: %w", err, apperr.ErrInvalidInput)
	}
	if len([]rune(password)) < MinPasswordLength {
		return Session{}, fmt.Errorf("password shorter than %d characters: %w", MinPasswordLength, apperr.ErrWeakPassword)
	}
	if displayName == "" {
		displayName, _, _ = strings.Cut(email, "@")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), l.cfg.BcryptCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	acct := models.Account{
		UID:          uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
	}
	err = l.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		existing, err := repository.Account(ctx, tx, email)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.ErrEmailTaken
		}
		now := models.At(tx.Now())
		acct.CreatedAt = now
		if err := tx.Set(repository.Accounts, email, acct, false); err != nil {
			return err
		}
		profile := models.Profile{Email: email, DisplayName: displayName, UpdatedAt: now}
		if err := tx.Set(repository.Profiles, acct.UID, profile, false); err != nil {
			return err
		}
		return tx.Set(repository.Directory, acct.UID, models.DirectoryEntry{Email: email, DisplayName: displayName}, false)
	})
	if err != nil {
		return Session{}, err
	}

	l.logger.Info("identity: account created", slog.String("uid", acct.UID))
	return l.issue(acct)
}

// SignIn checks credentials and issues a token. Repeated failures lock the email out.
func (l *Local) SignIn(ctx context.Context, email, password string) (Session, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, fmt.Errorf("email and password are required: %w", apperr.ErrInvalidInput)
	}
	if l.locked(email) {
		return Session{}, apperr.ErrRateLimited
	}

	acct, err := repository.Account(ctx, l.store, email)
	if err != nil {
		return Session{}, fmt.Errorf("load account: %w", err)
	}
	if acct == nil {
		l.recordFailure(email)
		return Session{}, apperr.ErrUnknownUser
	}
	if acct.Disabled {
		return Session{}, apperr.ErrAccountDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		if l.recordFailure(email) {
			l.logger.Warn("identity: sign-in locked out", slog.String("email", email))
			return Session{}, apperr.ErrRateLimited
		}
		return Session{}, apperr.ErrInvalidCredentials
	}
	l.clearFailures(email)

	// The profile carries the current display name.
	if p, err := repository.Profile(ctx, l.store, acct.UID); err == nil && p != nil && p.DisplayName != "" {
		acct.DisplayName = p.DisplayName
	}
	return l.issue(*acct)
}

// SignOut revokes token and returns the principal it belonged to.
func (l *Local) SignOut(ctx context.Context, token string) (Principal, error) {
	c, err := l.parse(token)
	if err != nil {
		return Principal{}, err
	}
	rec := revokedToken{UID: c.Subject, ExpiresAt: models.At(c.ExpiresAt.Time)}
	if err := l.store.Set(ctx, repository.RevokedTokens, c.ID, rec, false); err != nil {
		return Principal{}, fmt.Errorf("revoke token: %w", err)
	}
	return principalOf(c), nil
}

// Authenticate resolves a bearer token to its principal.
func (l *Local) Authenticate(ctx context.Context, token string) (Principal, error) {
	c, err := l.parse(token)
	if err != nil {
		return Principal{}, err
	}
	_, err = l.store.Get(ctx, repository.RevokedTokens, c.ID)
	switch {
	case err == nil:
		return Principal{}, fmt.Errorf("token revoked: %w", apperr.ErrUnauthenticated)
	case !errors.Is(err, docstore.ErrNotFound):
		return Principal{}, fmt.Errorf("check revocation: %w", err)
	}
	return principalOf(c), nil
}

// SetDisabled enables or disables the account registered under email.
func (l *Local) SetDisabled(ctx context.Context, email string, disabled bool) error {
	err := l.store.Update(ctx, repository.Accounts, NormalizeEmail(email), map[string]any{"disabled": disabled})
	if errors.Is(err, docstore.ErrNotFound) {
		return apperr.ErrUnknownUser
	}
	return err
}

func (l *Local) issue(acct models.Account) (Session, error) {
	now := l.now()
	exp := now.Add(l.cfg.TokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: acct.Email,
		Name:  acct.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   acct.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := token.SignedString(l.cfg.Secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign token: %w", err)
	}
	return Session{
		Principal: Principal{UID: acct.UID, Email: acct.Email, DisplayName: acct.DisplayName},
		Token:     signed,
		ExpiresAt: exp.UTC(),
	}, nil
}

func (l *Local) parse(raw string) (*claims, error) {
	if raw == "" {
		return nil, apperr.ErrUnauthenticated
	}
	parsed, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (any, error) {
		return l.cfg.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(l.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperr.ErrUnauthenticated)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.Subject == "" || c.ID == "" {
		return nil, fmt.Errorf("invalid token claims: %w", apperr.ErrUnauthenticated)
	}
	return c, nil
}

func principalOf(c *claims) Principal {
	return Principal{UID: c.Subject, Email: c.Email, DisplayName: c.Name}
}

func (l *Local) locked(email string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.failures[email]
	if !ok {
		return false
	}
	if st.lockedUntil.IsZero() {
		return false
	}
	if l.now().Before(st.lockedUntil) {
		return true
	}
	delete(l.failures, email)
	return false
}

// recordFailure counts a failed attempt and reports whether the email is now locked.
func (l *Local) recordFailure(email string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.failures[email]
	if !ok {
		st = &failureState{}
		l.failures[email] = st
	}
	st.count++
	if st.count >= l.cfg.MaxFailedLogins {
		st.lockedUntil = l.now().Add(l.cfg.Lockout)
		return true
	}
	return false
}

func (l *Local) clearFailures(email string) {
	l.mu.Lock()
	delete(l.failures, email)
	l.mu.Unlock()
}
