package memory

import (
	"context"
	"testing"
	"time"

	"github.com/featherauth/featherauth/internal/domain/repository"
)

func refreshInput(userID, hash string) repository.CreateRefreshTokenInput {
	return repository.CreateRefreshTokenInput{
		UserID:        userID,
		ApplicationID: "app-1",
		TokenHash:     hash,
		Scope:         "openid offline_access",
		ExpiresAt:     time.Now().Add(time.Hour),
	}
}

func TestRefreshRotate_Once(t *testing.T) {
	ctx := context.Background()
	tokens := New().Tokens()

	oldID, err := tokens.CreateRefresh(ctx, refreshInput("user-1", "hash-old"))
	if err != nil {
		t.Fatalf("CreateRefresh: %v", err)
	}

	newID, err := tokens.Rotate(ctx, oldID, refreshInput("user-1", "hash-new"))
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if newID == oldID {
		t.Fatal("rotation must mint a new id")
	}

	old, err := tokens.GetRefreshByHash(ctx, "hash-old")
	if err != nil {
		t.Fatalf("GetRefreshByHash: %v", err)
	}
	if old.RotatedAt == nil {
		t.Fatal("old token must be marked rotated")
	}
	if old.Live(time.Now()) {
		t.Fatal("rotated token must not be live")
	}

	replacement, err := tokens.GetRefreshByHash(ctx, "hash-new")
	if err != nil {
		t.Fatalf("GetRefreshByHash: %v", err)
	}
	if replacement.RotatedFrom == nil || *replacement.RotatedFrom != oldID {
		t.Errorf("RotatedFrom = %v, want %q", replacement.RotatedFrom, oldID)
	}

	// Replay of the already-rotated token is the theft signal.
	if _, err := tokens.Rotate(ctx, oldID, refreshInput("user-1", "hash-replay")); err != repository.ErrAlreadyUsed {
		t.Fatalf("second Rotate err = %v, want ErrAlreadyUsed", err)
	}
	if _, err := tokens.GetRefreshByHash(ctx, "hash-replay"); err != repository.ErrNotFound {
		t.Errorf("replay must not insert a replacement, got err = %v", err)
	}
}

func TestRefreshRotate_UnknownAndRevoked(t *testing.T) {
	ctx := context.Background()
	tokens := New().Tokens()

	if _, err := tokens.Rotate(ctx, "missing", refreshInput("user-1", "h")); err != repository.ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	id, err := tokens.CreateRefresh(ctx, refreshInput("user-1", "hash-1"))
	if err != nil {
		t.Fatalf("CreateRefresh: %v", err)
	}
	if err := tokens.RevokeRefresh(ctx, id); err != nil {
		t.Fatalf("RevokeRefresh: %v", err)
	}
	if _, err := tokens.Rotate(ctx, id, refreshInput("user-1", "hash-2")); err != repository.ErrAlreadyUsed {
		t.Errorf("rotate of revoked token err = %v, want ErrAlreadyUsed", err)
	}
}

func TestRevokeAllForUser_KillsFamily(t *testing.T) {
	ctx := context.Background()
	tokens := New().Tokens()

	if _, err := tokens.CreateRefresh(ctx, refreshInput("user-1", "h1")); err != nil {
		t.Fatalf("CreateRefresh: %v", err)
	}
	in := refreshInput("user-1", "h2")
	in.ApplicationID = "app-2"
	if _, err := tokens.CreateRefresh(ctx, in); err != nil {
		t.Fatalf("CreateRefresh: %v", err)
	}
	if _, err := tokens.CreateRefresh(ctx, refreshInput("user-2", "h3")); err != nil {
		t.Fatalf("CreateRefresh: %v", err)
	}
	uid := "user-1"
	if err := tokens.CreateAccess(ctx, &repository.AccessToken{
		JTI:           "jti-1",
		UserID:        &uid,
		ApplicationID: "app-1",
		ExpiresAt:     time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}

	n, err := tokens.RevokeAllForUser(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if n != 3 {
		t.Errorf("revoked = %d, want 3", n)
	}

	other, err := tokens.GetRefreshByHash(ctx, "h3")
	if err != nil {
		t.Fatalf("GetRefreshByHash: %v", err)
	}
	if !other.Live(time.Now()) {
		t.Error("other user's token must stay live")
	}
	revoked, err := tokens.IsAccessRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Errorf("IsAccessRevoked = %v, %v; want true", revoked, err)
	}
}

func TestAccessRevocation_Idempotent(t *testing.T) {
	ctx := context.Background()
	tokens := New().Tokens()

	if err := tokens.RevokeAccess(ctx, "unknown"); err != nil {
		t.Fatalf("revoking an unknown jti must be silent, got %v", err)
	}
	revoked, err := tokens.IsAccessRevoked(ctx, "unknown")
	if err != nil || revoked {
		t.Errorf("unknown jti reported revoked = %v, %v", revoked, err)
	}

	if err := tokens.CreateAccess(ctx, &repository.AccessToken{
		JTI:           "jti-1",
		ApplicationID: "app-1",
		ExpiresAt:     time.Now().Add(time.Minute),
	}); err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}
	if err := tokens.RevokeAccess(ctx, "jti-1"); err != nil {
		t.Fatalf("RevokeAccess: %v", err)
	}
	if err := tokens.RevokeAccess(ctx, "jti-1"); err != nil {
		t.Fatalf("second RevokeAccess: %v", err)
	}
	revoked, err = tokens.IsAccessRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Errorf("IsAccessRevoked = %v, %v; want true", revoked, err)
	}
}

func TestCreateAccess_DuplicateJTI(t *testing.T) {
	ctx := context.Background()
	tokens := New().Tokens()
	at := &repository.AccessToken{JTI: "jti-1", ApplicationID: "app-1", ExpiresAt: time.Now().Add(time.Minute)}
	if err := tokens.CreateAccess(ctx, at); err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}
	if err := tokens.CreateAccess(ctx, at); err != repository.ErrConflict {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}
