package auth

import (
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Credential is one configured administrator identity, immutable at runtime.
type Credential struct {
	Username     string
	PasswordHash string
}

// Config tunes the authentication service. Zero values fall back to the
// package defaults.
type Config struct {
	AccessSecret     []byte
	RefreshSecret    []byte
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	EnforceIPBinding bool
	MaxFailedAttempt int
	LockoutDuration  time.Duration
}

// Service validates credentials, issues and refreshes token pairs, and
// guards logins with the lockout tracker.
type Service struct {
	credentials      []Credential
	accessSecret     []byte
	refreshSecret    []byte
	accessTTL        time.Duration
	refreshTTL       time.Duration
	enforceIPBinding bool
	lockout          *Tracker
}

func NewService(credentials []Credential, cfg Config) *Service {
	s := &Service{
		credentials:      credentials,
		accessSecret:     cfg.AccessSecret,
		refreshSecret:    cfg.RefreshSecret,
		accessTTL:        cfg.AccessTTL,
		refreshTTL:       cfg.RefreshTTL,
		enforceIPBinding: cfg.EnforceIPBinding,
		lockout:          NewTracker(cfg.MaxFailedAttempt, cfg.LockoutDuration),
	}
	if s.accessTTL == 0 {
		s.accessTTL = DefaultAccessTokenTTL
	}
	if s.refreshTTL == 0 {
		s.refreshTTL = DefaultRefreshTokenTTL
	}
	return s
}

// Lockout exposes the tracker so callers can run the periodic sweep.
func (s *Service) Lockout() *Tracker {
	return s.lockout
}

func (s *Service) passwordHashFor(username string) (string, bool) {
	for _, c := range s.credentials {
		if c.Username == username {
			return c.PasswordHash, true
		}
	}
	return "", false
}

// Authenticate verifies the credential and returns a fresh token pair. The
// lockout check runs before password verification so a locked account
// answers the same regardless of the password supplied.
func (s *Service) Authenticate(username, password, clientIP string) (*TokenPair, error) {
	if len(s.credentials) == 0 {
		return nil, ErrConfigurationMissing
	}
	if s.lockout.IsAccountLocked(username, clientIP) {
		log.Warnf("login refused for %s from %s: account locked", username, clientIP)
		return nil, ErrAccountLocked
	}

	hash, ok := s.passwordHashFor(username)
	if !ok {
		s.lockout.RecordFailedAttempt(username, clientIP)
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		s.lockout.RecordFailedAttempt(username, clientIP)
		log.Warnf("login failed for %s from %s", username, clientIP)
		return nil, ErrInvalidCredentials
	}

	s.lockout.ClearFailedAttempts(username, clientIP)
	return s.GenerateTokens(username, clientIP)
}

// GenerateTokens signs a new access/refresh pair bound to the client IP.
func (s *Service) GenerateTokens(username, clientIP string) (*TokenPair, error) {
	access, expiry, err := signToken(s.accessSecret, username, clientIP, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, _, err := signToken(s.refreshSecret, username, clientIP, s.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, AccessExpiry: expiry, Username: username}, nil
}

// ValidateToken decodes an access token. When IP binding is enforced the
// caller's address must equal the address the token was issued to.
func (s *Service) ValidateToken(raw, clientIP string) (*Claims, error) {
	claims, err := parseToken(s.accessSecret, raw)
	if err != nil {
		return nil, err
	}
	if s.enforceIPBinding && claims.ClientIP != clientIP {
		return nil, ErrIPMismatch
	}
	return claims, nil
}

// RefreshToken verifies a refresh token against the refresh secret and, on
// success, issues a brand-new pair.
func (s *Service) RefreshToken(raw, clientIP string) (*TokenPair, error) {
	claims, err := parseToken(s.refreshSecret, raw)
	if err != nil {
		if err == ErrTokenExpired {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if s.enforceIPBinding && claims.ClientIP != clientIP {
		return nil, ErrIPMismatch
	}
	return s.GenerateTokens(claims.Subject, clientIP)
}
