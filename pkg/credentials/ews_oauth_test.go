package credentials

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestNewEWSOAuthDefaultsTenant(t *testing.T) {
	t.Setenv("OS2DS_EWS_TENANT_ID", "")
	t.Setenv("OS2DS_EWS_CLIENT_ID", "")
	t.Setenv("OS2DS_EWS_CLIENT_SECRET", "")

	o := NewEWSOAuth("", "client-1", "secret-1")
	if o.TenantID != msDefaultTenant {
		t.Errorf("TenantID = %q, want %q", o.TenantID, msDefaultTenant)
	}
	if o.tokenEndpoint() != "https://login.microsoftonline.com/common/oauth2/v2.0/token" {
		t.Errorf("unexpected token endpoint: %s", o.tokenEndpoint())
	}
}

func TestParseBearerToken(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	claims := bearerClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
		UPN:              "scanner@example.com",
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := tok.SignedString([]byte("does-not-need-to-verify"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}

	bt, err := ParseBearerToken(raw)
	if err != nil {
		t.Fatalf("ParseBearerToken failed: %v", err)
	}

	if bt.Principal != "scanner@example.com" {
		t.Errorf("Principal = %q, want %q", bt.Principal, "scanner@example.com")
	}
	if !bt.ExpiresAt.Equal(exp.Truncate(time.Second)) && bt.ExpiresAt.Sub(exp).Abs() > time.Second {
		t.Errorf("ExpiresAt = %v, want ~%v", bt.ExpiresAt, exp)
	}
}

func TestFingerprintRoundTrip(t *testing.T) {
	fp, err := Fingerprint("a-real-token-value")
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	if !MatchesFingerprint(fp, "a-real-token-value") {
		t.Error("expected fingerprint to match original secret")
	}
	if MatchesFingerprint(fp, "wrong-token-value") {
		t.Error("expected fingerprint not to match a different secret")
	}
}
