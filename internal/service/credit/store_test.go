package credit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "credit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDisabledStore(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Enabled() {
		t.Fatal("store without a path reports enabled")
	}
	if _, err := s.GetProfile(context.Background(), "user_1"); err == nil {
		t.Fatal("expected an error from a disabled store")
	}
}

func TestGetProfileUnknownUser(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetProfile(context.Background(), "nobody")
	if !errors.Is(err, ErrNoProfile) {
		t.Fatalf("expected ErrNoProfile, got %v", err)
	}
}

func TestEnsureUserProvisionsSimulatedData(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	const userID = "whatsapp_628123456789"

	created, err := s.EnsureUser(ctx, userID, "WhatsApp User 628123456789", userID+"@whatsapp.local")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if !created {
		t.Fatal("first contact should report created")
	}

	created, err = s.EnsureUser(ctx, userID, "WhatsApp User 628123456789", userID+"@whatsapp.local")
	if err != nil {
		t.Fatalf("second EnsureUser: %v", err)
	}
	if created {
		t.Fatal("second contact must not report created")
	}

	profile, err := s.GetProfile(ctx, userID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if profile.CreditScore != 650 {
		t.Fatalf("seed credit score = %d", profile.CreditScore)
	}
	if profile.FullName != "WhatsApp User 628123456789" {
		t.Fatalf("full name = %q", profile.FullName)
	}

	tradelines, err := s.GetTradelines(ctx, userID)
	if err != nil {
		t.Fatalf("GetTradelines: %v", err)
	}
	if len(tradelines) != 2 {
		t.Fatalf("expected 2 seed tradelines, got %d", len(tradelines))
	}
	creditors := map[string]bool{}
	for _, tl := range tradelines {
		creditors[tl.Creditor] = true
		payments, err := s.GetPaymentHistory(ctx, tl.TradelineID)
		if err != nil {
			t.Fatalf("GetPaymentHistory: %v", err)
		}
		if len(payments) != 2 {
			t.Fatalf("tradeline %s: expected 2 payments, got %d", tl.Creditor, len(payments))
		}
		if payments[0].PaymentDate.Before(payments[1].PaymentDate) {
			t.Fatalf("payments not newest first: %v then %v", payments[0].PaymentDate, payments[1].PaymentDate)
		}
	}
	if !creditors["Bank ABC"] || !creditors["Bank XYZ"] {
		t.Fatalf("unexpected seed creditors: %v", creditors)
	}
}

func TestAssemblerOverStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	const userID = "whatsapp_628123456789"

	if _, err := s.EnsureUser(ctx, userID, "Budi", "budi@example.com"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	got, err := NewAssembler(s).BuildContext(ctx, userID)
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if got == NoDataContext {
		t.Fatal("expected real credit context for a provisioned user")
	}

	if got2, err := NewAssembler(s).BuildContext(ctx, "nobody"); err != nil || got2 != NoDataContext {
		t.Fatalf("expected no-data sentinel for unknown user: %q, %v", got2, err)
	}
}
