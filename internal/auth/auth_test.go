package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"wallo.org/internal/moderation"
)

func setSecret(t *testing.T) {
	t.Helper()
	t.Setenv("WALLO_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestGenerateAndValidate(t *testing.T) {
	setSecret(t)

	token, err := GenerateToken("mod-42", "Sam", 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "mod-42" {
		t.Fatalf("subject = %s", claims.Subject)
	}
	if claims.Name != "Sam" {
		t.Fatalf("name = %s", claims.Name)
	}
	if claims.Issuer != "wallo" {
		t.Fatalf("issuer = %s", claims.Issuer)
	}
}

func TestParseAndValidateRejectsGarbage(t *testing.T) {
	setSecret(t)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: err = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestParseAndValidateRejectsWrongSecret(t *testing.T) {
	setSecret(t)
	token, err := GenerateToken("mod-42", "", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	t.Setenv("WALLO_AUTH_SECRET", "different-secret")
	ResetSecretForTests()

	if _, err := ParseAndValidate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestGenerateTokenRequiresSecret(t *testing.T) {
	t.Setenv("WALLO_AUTH_SECRET", "")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)

	if _, err := GenerateToken("mod-42", "", time.Minute); err == nil {
		t.Fatal("expected error without configured secret")
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "correct horse battery staple"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatal("wrong password must not verify")
	}
}

func TestCanModerate(t *testing.T) {
	ctx := context.Background()
	store := moderation.NewInMemory()

	if err := store.CreateOrganization(ctx, moderation.Organization{ID: "org-1", AdminID: "admin-1"}); err != nil {
		t.Fatalf("create org: %v", err)
	}
	if err := store.CreatePlatform(ctx, moderation.Platform{ID: "plat-1", OrganizationID: "org-1"}); err != nil {
		t.Fatalf("create platform: %v", err)
	}
	if err := store.AddPlatformModerator(ctx, "plat-1", "mod-1"); err != nil {
		t.Fatalf("add moderator: %v", err)
	}

	if _, err := CanModerate(ctx, store, "plat-1", "mod-1"); err != nil {
		t.Fatalf("moderator: %v", err)
	}
	if _, err := CanModerate(ctx, store, "plat-1", "admin-1"); err != nil {
		t.Fatalf("org admin: %v", err)
	}
	if _, err := CanModerate(ctx, store, "plat-1", "stranger"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger: err = %v, want ErrForbidden", err)
	}
	if _, err := CanModerate(ctx, store, "plat-1", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("anonymous: err = %v, want ErrUnauthorized", err)
	}
	if _, err := CanModerate(ctx, store, "ghost", "mod-1"); !errors.Is(err, moderation.ErrNotFound) {
		t.Fatalf("unknown platform: err = %v, want ErrNotFound", err)
	}
}
