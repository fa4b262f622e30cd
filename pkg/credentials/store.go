// Package credentials provides encrypted, at-rest storage for the
// credentials a Source needs to open its backend: SMB share passwords, EWS
// OAuth2 bearer/refresh tokens, S3/GCS access keys. Secrets never cross a
// Source.Censor() boundary; this store is the only place they're read back
// in full.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// SourceKind names which backend a stored credential authenticates against.
type SourceKind string

const (
	SourceSMB SourceKind = "smb"
	SourceEWS SourceKind = "ews"
	SourceS3  SourceKind = "s3"
	SourceGCS SourceKind = "gcs"
)

// TokenType indicates the credential mechanism.
type TokenType string

const (
	TokenTypeBearer   TokenType = "bearer"
	TokenTypePassword TokenType = "password"
)

// Credential is one stored secret, scoped to an account (an SMB domain
// user, an EWS mailbox, an S3/GCS access key pair) and a source kind.
type Credential struct {
	ID           string     `json:"id" db:"id"`
	AccountID    string     `json:"account_id" db:"account_id"`
	Source       SourceKind `json:"source" db:"source"`
	TokenType    TokenType  `json:"token_type" db:"token_type"`
	AccessToken  string     `json:"-" db:"access_token"`  // Encrypted at rest
	RefreshToken string     `json:"-" db:"refresh_token"` // Encrypted at rest
	Scopes       []string   `json:"scopes" db:"-"`
	ScopesJSON   string     `json:"-" db:"scopes"`
	Principal    string     `json:"principal,omitempty" db:"principal"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// Status is the public-facing view of a Credential without its secrets.
type Status struct {
	Source     SourceKind `json:"source"`
	Connected  bool       `json:"connected"`
	Principal  string     `json:"principal,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Scopes     []string   `json:"scopes,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Store manages encrypted credential storage.
type Store struct {
	db          *sql.DB
	encKey      []byte
	mu          sync.RWMutex
	envFallback bool // Allow fallback to env vars
}

// StoreOption configures the credential store.
type StoreOption func(*Store)

// WithEnvFallback enables fallback to environment variables, keyed by
// source kind, for accounts with no stored row (useful for CI and local
// scans against a single developer-supplied credential).
func WithEnvFallback(enabled bool) StoreOption {
	return func(s *Store) {
		s.envFallback = enabled
	}
}

// NewStore creates a new credential store.
// encryptionKey must be exactly 32 bytes for AES-256.
func NewStore(db *sql.DB, encryptionKey []byte, opts ...StoreOption) (*Store, error) {
	if len(encryptionKey) != 32 {
		return nil, errors.New("encryption key must be 32 bytes for AES-256")
	}

	s := &Store{
		db:     db,
		encKey: encryptionKey,
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("credentials: migrating schema: %w", err)
	}

	return s, nil
}

// migrate creates the credentials table if it doesn't already exist. It
// uses SQLite/Postgres-compatible types only (TEXT/TIMESTAMP), the same
// subset pkg/export/sqlsink relies on for its own cross-driver schema.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS credentials (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			source TEXT NOT NULL,
			token_type TEXT NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT,
			scopes TEXT,
			principal TEXT,
			expires_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			last_used_at TIMESTAMP,
			UNIQUE (account_id, source)
		)
	`)
	return err
}

// encrypt encrypts plaintext using AES-256-GCM.
func (s *Store) encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(s.encKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts ciphertext using AES-256-GCM.
func (s *Store) decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}

	block, err := aes.NewCipher(s.encKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(data) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}

	nonce, cipherBytes := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, cipherBytes, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

// SaveCredential stores or updates a credential with encryption.
func (s *Store) SaveCredential(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encAccess, err := s.encrypt(cred.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	encRefresh, err := s.encrypt(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}

	scopesJSON, _ := json.Marshal(cred.Scopes)

	now := time.Now().UTC()

	query := `
		INSERT INTO credentials (id, account_id, source, token_type, access_token, refresh_token, scopes, principal, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (account_id, source) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			scopes = EXCLUDED.scopes,
			principal = EXCLUDED.principal,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		cred.ID,
		cred.AccountID,
		cred.Source,
		cred.TokenType,
		encAccess,
		encRefresh,
		string(scopesJSON),
		cred.Principal,
		cred.ExpiresAt,
		now,
	)

	return err
}

// GetCredential retrieves a credential by account and source kind.
func (s *Store) GetCredential(ctx context.Context, accountID string, source SourceKind) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cred Credential
	var encAccess, encRefresh sql.NullString
	var scopesJSON sql.NullString
	var principal sql.NullString
	var expiresAt, lastUsedAt sql.NullTime

	query := `
		SELECT id, account_id, source, token_type, access_token, refresh_token, scopes, principal, expires_at, created_at, updated_at, last_used_at
		FROM credentials
		WHERE account_id = $1 AND source = $2
	`

	err := s.db.QueryRowContext(ctx, query, accountID, source).Scan(
		&cred.ID,
		&cred.AccountID,
		&cred.Source,
		&cred.TokenType,
		&encAccess,
		&encRefresh,
		&scopesJSON,
		&principal,
		&expiresAt,
		&cred.CreatedAt,
		&cred.UpdatedAt,
		&lastUsedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		if s.envFallback {
			return s.getFromEnv(source)
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if encAccess.Valid {
		cred.AccessToken, err = s.decrypt(encAccess.String)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt access token: %w", err)
		}
	}

	if encRefresh.Valid {
		cred.RefreshToken, err = s.decrypt(encRefresh.String)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
	}

	if scopesJSON.Valid {
		_ = json.Unmarshal([]byte(scopesJSON.String), &cred.Scopes)
	}

	if principal.Valid {
		cred.Principal = principal.String
	}

	if expiresAt.Valid {
		cred.ExpiresAt = &expiresAt.Time
	}

	if lastUsedAt.Valid {
		cred.LastUsedAt = &lastUsedAt.Time
	}

	return &cred, nil
}

// getFromEnv returns a credential from environment variables, used when no
// row exists and WithEnvFallback is set.
func (s *Store) getFromEnv(source SourceKind) (*Credential, error) {
	var envVar string
	var tokenType TokenType
	switch source {
	case SourceSMB:
		envVar, tokenType = "OS2DS_SMB_PASSWORD", TokenTypePassword
	case SourceEWS:
		envVar, tokenType = "OS2DS_EWS_TOKEN", TokenTypeBearer
	case SourceS3:
		envVar, tokenType = "OS2DS_S3_SECRET_KEY", TokenTypePassword
	case SourceGCS:
		envVar, tokenType = "OS2DS_GCS_CREDENTIALS_JSON", TokenTypePassword
	default:
		return nil, nil
	}

	value := os.Getenv(envVar)
	if value == "" {
		return nil, nil
	}

	return &Credential{
		Source:      source,
		TokenType:   tokenType,
		AccessToken: value,
	}, nil
}

// GetStatus returns the public credential status for every source kind an
// account has (or could, via env fallback) authenticate against.
func (s *Store) GetStatus(ctx context.Context, accountID string) ([]Status, error) {
	kinds := []SourceKind{SourceSMB, SourceEWS, SourceS3, SourceGCS}
	statuses := make([]Status, 0, len(kinds))

	for _, k := range kinds {
		cred, err := s.GetCredential(ctx, accountID, k)
		if err != nil {
			return nil, err
		}

		status := Status{
			Source:    k,
			Connected: cred != nil && cred.AccessToken != "",
		}

		if cred != nil {
			status.Principal = cred.Principal
			status.ExpiresAt = cred.ExpiresAt
			status.Scopes = cred.Scopes
			status.LastUsedAt = cred.LastUsedAt
		}

		statuses = append(statuses, status)
	}

	return statuses, nil
}

// DeleteCredential removes a credential.
func (s *Store) DeleteCredential(ctx context.Context, accountID string, source SourceKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `DELETE FROM credentials WHERE account_id = $1 AND source = $2`
	_, err := s.db.ExecContext(ctx, query, accountID, source)
	return err
}

// UpdateLastUsed updates the last_used_at timestamp.
func (s *Store) UpdateLastUsed(ctx context.Context, accountID string, source SourceKind) error {
	query := `UPDATE credentials SET last_used_at = $1 WHERE account_id = $2 AND source = $3`
	_, err := s.db.ExecContext(ctx, query, time.Now().UTC(), accountID, source)
	return err
}

// Fingerprint returns a one-way hash of a secret suitable for audit
// logging and credential-reuse detection. It never unlocks the secret it
// hashes; it exists so "same token seen on two accounts" can be checked
// without ever holding the plaintext anywhere but inside Save/Get.
func Fingerprint(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint secret: %w", err)
	}
	return string(hash), nil
}

// MatchesFingerprint reports whether secret hashes to the given
// fingerprint produced by Fingerprint.
func MatchesFingerprint(fingerprint, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(fingerprint), []byte(secret)) == nil
}

// NeedsRefresh reports whether a bearer credential is close enough to
// expiry that the mail/EWS source family's 401-triggers-one-refresh rule
// should pre-empt it rather than wait for the first 401.
func (c *Credential) NeedsRefresh() bool {
	if c == nil || c.ExpiresAt == nil {
		return false
	}
	return time.Until(*c.ExpiresAt) < 5*time.Minute
}
