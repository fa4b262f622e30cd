package credentials

import (
	"bytes"
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	_, err = db.Exec(`
		CREATE TABLE credentials (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			source TEXT NOT NULL,
			token_type TEXT NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT,
			scopes TEXT,
			principal TEXT,
			expires_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_used_at DATETIME,
			UNIQUE (account_id, source)
		)
	`)
	if err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	return db
}

func TestStore_EncryptDecrypt(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	key := bytes.Repeat([]byte("a"), 32)
	store, err := NewStore(db, key)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	original := "super-secret-bearer-token"
	encrypted, err := store.encrypt(original)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	if encrypted == original {
		t.Error("encrypted should not equal original")
	}

	decrypted, err := store.decrypt(encrypted)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}

	if decrypted != original {
		t.Errorf("decrypted = %q, want %q", decrypted, original)
	}
}

func TestStore_SaveAndGetCredential(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	key := bytes.Repeat([]byte("b"), 32)
	store, err := NewStore(db, key, WithEnvFallback(false))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	expiresAt := time.Now().Add(1 * time.Hour)

	cred := &Credential{
		ID:           "test-id-1",
		AccountID:    "mailbox-123@example.com",
		Source:       SourceEWS,
		TokenType:    TokenTypeBearer,
		AccessToken:  "access-token-xyz",
		RefreshToken: "refresh-token-abc",
		Scopes:       []string{"EWS.AccessAsUser.All"},
		Principal:    "mailbox-123@example.com",
		ExpiresAt:    &expiresAt,
	}

	if err := store.SaveCredential(ctx, cred); err != nil {
		t.Fatalf("SaveCredential failed: %v", err)
	}

	retrieved, err := store.GetCredential(ctx, "mailbox-123@example.com", SourceEWS)
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}

	if retrieved == nil {
		t.Fatal("GetCredential returned nil")
	}

	if retrieved.AccessToken != cred.AccessToken {
		t.Errorf("AccessToken = %q, want %q", retrieved.AccessToken, cred.AccessToken)
	}

	if retrieved.RefreshToken != cred.RefreshToken {
		t.Errorf("RefreshToken = %q, want %q", retrieved.RefreshToken, cred.RefreshToken)
	}

	if retrieved.Principal != cred.Principal {
		t.Errorf("Principal = %q, want %q", retrieved.Principal, cred.Principal)
	}
}

func TestStore_DeleteCredential(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	key := bytes.Repeat([]byte("c"), 32)
	store, err := NewStore(db, key, WithEnvFallback(false))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()

	cred := &Credential{
		ID:          "test-id-2",
		AccountID:   "share\\\\fileserver\\archive",
		Source:      SourceSMB,
		TokenType:   TokenTypePassword,
		AccessToken: "s3cr3t",
	}

	if err := store.SaveCredential(ctx, cred); err != nil {
		t.Fatalf("SaveCredential failed: %v", err)
	}

	if err := store.DeleteCredential(ctx, cred.AccountID, SourceSMB); err != nil {
		t.Fatalf("DeleteCredential failed: %v", err)
	}

	retrieved, err := store.GetCredential(ctx, cred.AccountID, SourceSMB)
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}

	if retrieved != nil {
		t.Error("expected nil after delete")
	}
}

func TestStore_GetStatus(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	key := bytes.Repeat([]byte("d"), 32)
	store, err := NewStore(db, key, WithEnvFallback(false))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()

	cred := &Credential{
		ID:          "test-id-3",
		AccountID:   "operator-789",
		Source:      SourceEWS,
		TokenType:   TokenTypeBearer,
		AccessToken: "access-token",
		Principal:   "user@example.com",
	}

	if err := store.SaveCredential(ctx, cred); err != nil {
		t.Fatalf("SaveCredential failed: %v", err)
	}

	statuses, err := store.GetStatus(ctx, "operator-789")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}

	if len(statuses) != 4 {
		t.Errorf("expected 4 statuses, got %d", len(statuses))
	}

	var ewsStatus *Status
	for i := range statuses {
		if statuses[i].Source == SourceEWS {
			ewsStatus = &statuses[i]
			break
		}
	}

	if ewsStatus == nil {
		t.Fatal("EWS status not found")
	}

	if !ewsStatus.Connected {
		t.Error("EWS should be connected")
	}

	if ewsStatus.Principal != "user@example.com" {
		t.Errorf("Principal = %q, want %q", ewsStatus.Principal, "user@example.com")
	}
}

func TestCredential_NeedsRefresh(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn time.Duration
		want      bool
	}{
		{"expires in 1 hour", 1 * time.Hour, false},
		{"expires in 10 minutes", 10 * time.Minute, false},
		{"expires in 4 minutes", 4 * time.Minute, true},
		{"expires in 1 minute", 1 * time.Minute, true},
		{"already expired", -1 * time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expiresAt := time.Now().Add(tt.expiresIn)
			cred := &Credential{ExpiresAt: &expiresAt}

			if got := cred.NeedsRefresh(); got != tt.want {
				t.Errorf("NeedsRefresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStore_InvalidKeyLength(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := NewStore(db, []byte("16-byte-key-xxx!"))
	if err == nil {
		t.Error("expected error for 16-byte key")
	}

	_, err = NewStore(db, bytes.Repeat([]byte("a"), 32))
	if err != nil {
		t.Errorf("unexpected error for 32-byte key: %v", err)
	}
}
