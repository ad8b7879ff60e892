package adminauth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/adminauth"
)

func TestEmailChangeHappyPath(t *testing.T) {
	h := newHarness(t, nil)
	acct := h.createAdmin(t, "old@example.com")
	ctx := context.Background()
	res := h.login(t, "old@example.com", testPassword, "")

	if err := h.engine.RequestEmailChange(ctx, acct.ID, "new@example.com", ""); err != nil {
		t.Fatalf("RequestEmailChange failed: %v", err)
	}
	status, err := h.engine.EmailChangeStatus(ctx, acct.ID)
	if err != nil || status.State != adminauth.EmailChangeRequested || status.NewEmail != "new@example.com" {
		t.Fatalf("unexpected status %+v (%v)", status, err)
	}

	if _, err := h.engine.CommitEmailChange(ctx, acct.ID); !errors.Is(err, adminauth.ErrNotVerified) {
		t.Fatalf("expected ErrNotVerified before verification, got %v", err)
	}

	code := h.lastOTP(t, "new@example.com")
	if err := h.engine.VerifyEmailChangeOTP(ctx, acct.ID, code); err != nil {
		t.Fatalf("VerifyEmailChangeOTP failed: %v", err)
	}
	status, _ = h.engine.EmailChangeStatus(ctx, acct.ID)
	if status.State != adminauth.EmailChangeVerified {
		t.Fatalf("expected verified, got %s", status.State)
	}

	got, err := h.engine.CommitEmailChange(ctx, acct.ID)
	if err != nil || got != "new@example.com" {
		t.Fatalf("CommitEmailChange = %q, %v", got, err)
	}
	if _, err := h.engine.CommitEmailChange(ctx, acct.ID); !errors.Is(err, adminauth.ErrNotVerified) {
		t.Fatalf("expected a second commit to fail, got %v", err)
	}

	stored, _ := h.store.GetAccountByID(ctx, acct.ID)
	if stored.Email != "new@example.com" {
		t.Fatalf("email not updated: %s", stored.Email)
	}
	if _, err := h.engine.Authenticate(ctx, res.AccessToken); !errors.Is(err, adminauth.ErrUnauthenticated) {
		t.Fatalf("expected sessions revoked after commit, got %v", err)
	}
	if _, ok := h.outbox.Last("old@example.com"); !ok {
		t.Fatal("expected notice to the old address")
	}
	h.login(t, "new@example.com", testPassword, "")
}

func TestEmailChangeAttemptsExhausted(t *testing.T) {
	h := newHarness(t, nil)
	acct := h.createAdmin(t, "old@example.com")
	ctx := context.Background()

	if err := h.engine.RequestEmailChange(ctx, acct.ID, "new@example.com", ""); err != nil {
		t.Fatalf("RequestEmailChange failed: %v", err)
	}
	code := h.lastOTP(t, "new@example.com")
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 1; i <= 5; i++ {
		if err := h.engine.VerifyEmailChangeOTP(ctx, acct.ID, wrong); !errors.Is(err, adminauth.ErrInvalidCode) {
			t.Fatalf("attempt %d: expected ErrInvalidCode, got %v", i, err)
		}
	}
	if err := h.engine.VerifyEmailChangeOTP(ctx, acct.ID, wrong); !errors.Is(err, adminauth.ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts on the 6th attempt, got %v", err)
	}

	status, _ := h.engine.EmailChangeStatus(ctx, acct.ID)
	if status.State != adminauth.EmailChangeIdle {
		t.Fatalf("expected idle after exhaustion, got %s", status.State)
	}
	if err := h.engine.VerifyEmailChangeOTP(ctx, acct.ID, code); !errors.Is(err, adminauth.ErrInvalidToken) {
		t.Fatalf("expected the old code to be dead, got %v", err)
	}
}

func TestEmailChangeValidation(t *testing.T) {
	h := newHarness(t, nil)
	acct := h.createAdmin(t, "old@example.com")
	h.createAdmin(t, "taken@example.com")
	ctx := context.Background()

	if err := h.engine.RequestEmailChange(ctx, acct.ID, "nope", ""); !errors.Is(err, adminauth.ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if err := h.engine.RequestEmailChange(ctx, acct.ID, "Taken@Example.com", ""); !errors.Is(err, adminauth.ErrConflict) {
		t.Fatalf("expected ErrConflict for taken address, got %v", err)
	}
	if err := h.engine.RequestEmailChange(ctx, acct.ID, "old@example.com", ""); !errors.Is(err, adminauth.ErrConflict) {
		t.Fatalf("expected ErrConflict for current address, got %v", err)
	}
}

func TestEmailChangeSupersedesAndExpires(t *testing.T) {
	h := newHarness(t, nil)
	acct := h.createAdmin(t, "old@example.com")
	ctx := context.Background()

	if err := h.engine.RequestEmailChange(ctx, acct.ID, "first@example.com", ""); err != nil {
		t.Fatalf("RequestEmailChange failed: %v", err)
	}
	first := h.lastOTP(t, "first@example.com")
	if err := h.engine.RequestEmailChange(ctx, acct.ID, "second@example.com", ""); err != nil {
		t.Fatalf("RequestEmailChange failed: %v", err)
	}
	second := h.lastOTP(t, "second@example.com")

	if first != second {
		if err := h.engine.VerifyEmailChangeOTP(ctx, acct.ID, first); !errors.Is(err, adminauth.ErrInvalidCode) {
			t.Fatalf("expected superseded code rejected, got %v", err)
		}
	}

	h.clock.Advance(11 * time.Minute)
	if err := h.engine.VerifyEmailChangeOTP(ctx, acct.ID, second); !errors.Is(err, adminauth.ErrInvalidToken) {
		t.Fatalf("expected expired request, got %v", err)
	}
}

func TestEmailChangeRequiresTOTPWhenEnabled(t *testing.T) {
	h := newHarness(t, nil)
	acct := h.createAdmin(t, "old@example.com")
	secret := h.enableTOTP(t, acct.ID)
	ctx := context.Background()

	if err := h.engine.RequestEmailChange(ctx, acct.ID, "new@example.com", ""); !errors.Is(err, adminauth.ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode without TOTP, got %v", err)
	}
	if err := h.engine.RequestEmailChange(ctx, acct.ID, "new@example.com", h.code(t, secret)); err != nil {
		t.Fatalf("RequestEmailChange with TOTP failed: %v", err)
	}
}

func TestEmailChangeTOTPGateCanBeDisabled(t *testing.T) {
	h := newHarness(t, func(c *adminauth.Config) { c.EmailChange.RequireTOTPWhenEnabled = false })
	acct := h.createAdmin(t, "old@example.com")
	h.enableTOTP(t, acct.ID)

	if err := h.engine.RequestEmailChange(context.Background(), acct.ID, "new@example.com", ""); err != nil {
		t.Fatalf("expected no TOTP gate, got %v", err)
	}
}

func TestEmailChangeDeliveryFailureKeepsRequest(t *testing.T) {
	h := newHarness(t, nil)
	acct := h.createAdmin(t, "old@example.com")
	ctx := context.Background()

	h.outbox.FailNext(errors.New("smtp down"))
	err := h.engine.RequestEmailChange(ctx, acct.ID, "new@example.com", "")
	if !errors.Is(err, adminauth.ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	status, _ := h.engine.EmailChangeStatus(ctx, acct.ID)
	if status.State != adminauth.EmailChangeRequested {
		t.Fatalf("request must survive a delivery failure, got %s", status.State)
	}
}

func TestEmailChangeCancel(t *testing.T) {
	h := newHarness(t, nil)
	acct := h.createAdmin(t, "old@example.com")
	ctx := context.Background()

	if err := h.engine.RequestEmailChange(ctx, acct.ID, "new@example.com", ""); err != nil {
		t.Fatalf("RequestEmailChange failed: %v", err)
	}
	code := h.lastOTP(t, "new@example.com")
	if err := h.engine.CancelEmailChange(ctx, acct.ID); err != nil {
		t.Fatalf("CancelEmailChange failed: %v", err)
	}
	status, _ := h.engine.EmailChangeStatus(ctx, acct.ID)
	if status.State != adminauth.EmailChangeIdle {
		t.Fatalf("expected idle after cancel, got %s", status.State)
	}
	if err := h.engine.VerifyEmailChangeOTP(ctx, acct.ID, code); !errors.Is(err, adminauth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken after cancel, got %v", err)
	}
	if err := h.engine.CancelEmailChange(ctx, acct.ID); err != nil {
		t.Fatalf("cancel without a request should be a no-op, got %v", err)
	}
}
