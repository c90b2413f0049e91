package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	repotest "github.com/gonasi/gonasi-backend/internal/data/repos/testutil"
	"github.com/gonasi/gonasi-backend/internal/platform/ctxutil"
)

func TestAuthServiceRoundTrip(t *testing.T) {
	svc := NewAuthService(repotest.Logger(t), "test-secret", time.Minute)
	userID := uuid.New()
	token, err := svc.IssueAccessToken(userID)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	ctx, err := svc.SetContextFromToken(context.Background(), token)
	if err != nil {
		t.Fatalf("SetContextFromToken: %v", err)
	}
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID != userID {
		t.Fatalf("request data: want=%s got=%+v", userID, rd)
	}
}

func TestAuthServiceRejectsForeignTokens(t *testing.T) {
	issuer := NewAuthService(repotest.Logger(t), "other-secret", time.Minute)
	token, err := issuer.IssueAccessToken(uuid.New())
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	svc := NewAuthService(repotest.Logger(t), "test-secret", time.Minute)
	if _, err := svc.SetContextFromToken(context.Background(), token); err == nil {
		t.Fatalf("expected signature mismatch to be rejected")
	}
	if _, err := svc.SetContextFromToken(context.Background(), ""); err == nil {
		t.Fatalf("expected empty token to be rejected")
	}
}
