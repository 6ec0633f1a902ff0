package services

import "testing"

func TestTokenService(t *testing.T) {
	ts := NewTokenService("test-secret")

	t.Run("round-trips tenant id", func(t *testing.T) {
		token, err := ts.IssueTenantToken("tenant-42")
		if err != nil {
			t.Fatalf("issue failed: %v", err)
		}

		claims, err := ts.ValidateToken(token)
		if err != nil {
			t.Fatalf("validate failed: %v", err)
		}
		if claims.TenantID != "tenant-42" {
			t.Errorf("expected tenant-42, got %q", claims.TenantID)
		}
	})

	t.Run("rejects token signed with another secret", func(t *testing.T) {
		other := NewTokenService("other-secret")
		token, _ := other.IssueTenantToken("tenant-42")

		if _, err := ts.ValidateToken(token); err == nil {
			t.Error("expected validation error for foreign token")
		}
	})

	t.Run("rejects garbage", func(t *testing.T) {
		if _, err := ts.ValidateToken("not-a-jwt"); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestVerificationService(t *testing.T) {
	vs := NewVerificationService(nil)

	t.Run("unknown reference is unverified", func(t *testing.T) {
		if vs.IsVerified("CLOUD-AI~abc#key") {
			t.Error("expected unverified")
		}
	})

	t.Run("verified reference stays verified", func(t *testing.T) {
		vs.Verify("CLOUD-AI~abc#key")
		if !vs.IsVerified("CLOUD-AI~abc#key") {
			t.Error("expected verified")
		}
		// re-verifying is a no-op
		vs.Verify("CLOUD-AI~abc#key")
		if !vs.IsVerified("CLOUD-AI~abc#key") {
			t.Error("expected still verified")
		}
	})
}
