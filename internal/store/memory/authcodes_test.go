package memory

import (
	"context"
	"testing"
	"time"

	"github.com/featherauth/featherauth/internal/domain/repository"
	"github.com/featherauth/featherauth/internal/store"
)

func seedCode(t *testing.T, codes repository.AuthCodeRepository, hash string, expiresAt time.Time) {
	t.Helper()
	err := codes.CreateCode(context.Background(), &repository.AuthorizationCode{
		CodeHash:            hash,
		UserID:              "user-1",
		ApplicationID:       "app-1",
		RedirectURI:         "https://app.example.com/cb",
		Scope:               "openid",
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
		ExpiresAt:           expiresAt,
	})
	if err != nil {
		t.Fatalf("CreateCode: %v", err)
	}
}

func TestRedeemCode_SingleUse(t *testing.T) {
	ctx := context.Background()
	codes := New().AuthCodes()
	seedCode(t, codes, "hash-1", time.Now().Add(time.Minute))

	code, err := codes.RedeemCode(ctx, "hash-1")
	if err != nil {
		t.Fatalf("RedeemCode: %v", err)
	}
	if code.UserID != "user-1" || code.CodeChallengeMethod != "S256" {
		t.Errorf("unexpected code row: %+v", code)
	}
	if code.UsedAt == nil {
		t.Fatal("redeemed code must carry UsedAt")
	}

	if _, err := codes.RedeemCode(ctx, "hash-1"); err != repository.ErrAlreadyUsed {
		t.Fatalf("replay err = %v, want ErrAlreadyUsed", err)
	}
}

func TestRedeemCode_ExpiredAndUnknown(t *testing.T) {
	ctx := context.Background()
	codes := New().AuthCodes()
	seedCode(t, codes, "hash-old", time.Now().Add(-time.Second))

	if _, err := codes.RedeemCode(ctx, "hash-old"); err != repository.ErrExpired {
		t.Errorf("expired err = %v, want ErrExpired", err)
	}
	if _, err := codes.RedeemCode(ctx, "nope"); err != repository.ErrNotFound {
		t.Errorf("unknown err = %v, want ErrNotFound", err)
	}
}

func TestAuthRequestLifecycle(t *testing.T) {
	ctx := context.Background()
	codes := New().AuthCodes()

	req := &repository.AuthorizationRequest{
		ID:          "req-1",
		ClientID:    "client-1",
		RedirectURI: "https://app.example.com/cb",
		Scope:       "openid",
		State:       "s",
	}
	if err := codes.CreateRequest(ctx, req); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	got, err := codes.GetRequest(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if got.ClientID != "client-1" {
		t.Errorf("ClientID = %q", got.ClientID)
	}
	if err := codes.DeleteRequest(ctx, "req-1"); err != nil {
		t.Fatalf("DeleteRequest: %v", err)
	}
	if _, err := codes.GetRequest(ctx, "req-1"); err != repository.ErrNotFound {
		t.Errorf("after delete err = %v, want ErrNotFound", err)
	}
}

func TestCleanup_PurgesDeadRows(t *testing.T) {
	ctx := context.Background()
	dal := New()

	seedCode(t, dal.AuthCodes(), "live", time.Now().Add(time.Minute))
	seedCode(t, dal.AuthCodes(), "used", time.Now().Add(time.Minute))
	seedCode(t, dal.AuthCodes(), "dead", time.Now().Add(-time.Minute))
	if _, err := dal.AuthCodes().RedeemCode(ctx, "used"); err != nil {
		t.Fatalf("RedeemCode: %v", err)
	}

	if err := dal.Tokens().CreateAccess(ctx, &repository.AccessToken{
		JTI: "gone", ApplicationID: "app-1", ExpiresAt: time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("CreateAccess: %v", err)
	}
	oldID, err := dal.Tokens().CreateRefresh(ctx, refreshInput("user-1", "rot-me"))
	if err != nil {
		t.Fatalf("CreateRefresh: %v", err)
	}
	if _, err := dal.Tokens().Rotate(ctx, oldID, refreshInput("user-1", "fresh")); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if err := dal.AuthCodes().CreateRequest(ctx, &repository.AuthorizationRequest{
		ID: "stale", ClientID: "client-1", CreatedAt: time.Now().Add(-48 * time.Hour),
	}); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	stats, err := dal.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	want := store.CleanupStats{AuthCodes: 2, AccessTokens: 1, RefreshTokens: 1, AuthRequests: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}

	// Live rows survive.
	if _, err := dal.AuthCodes().RedeemCode(ctx, "live"); err != nil {
		t.Errorf("live code gone: %v", err)
	}
	if _, err := dal.Tokens().GetRefreshByHash(ctx, "fresh"); err != nil {
		t.Errorf("fresh refresh token gone: %v", err)
	}
}
