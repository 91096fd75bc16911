package httpapi

import (
	"context"
	"testing"
	"time"

	"winepos/backend/internal/domain"
	"winepos/backend/internal/store/memory"
)

func TestLoginAndParseToken(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	resp, err := auth.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatal("expected access token")
	}
	if resp.Role != domain.RoleAdmin {
		t.Fatalf("role = %q", resp.Role)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("actor = %+v", actor)
	}
	if actor.ID < 1 {
		t.Fatalf("expected numeric user id in token, got %d", actor.ID)
	}
	if actor.FullName == "" {
		t.Fatal("expected full name in token")
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	if _, err := auth.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "not-the-password",
	}); err == nil {
		t.Fatal("expected login failure")
	}
}

func TestLogin_UnknownUser(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	if _, err := auth.Login(context.Background(), domain.LoginRequest{
		Username: "ghost",
		Password: "whatever",
	}); err == nil {
		t.Fatal("expected login failure for unknown user")
	}
}

func TestParseToken_Garbage(t *testing.T) {
	auth := NewAuthManager("test-secret-key", time.Hour, memory.New())

	if _, err := auth.ParseToken("not.a.jwt"); err == nil {
		t.Fatal("expected parse failure")
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	repo := memory.NewSeeded()
	signer := NewAuthManager("secret-one", time.Hour, repo)
	verifier := NewAuthManager("secret-two", time.Hour, repo)

	resp, err := signer.Login(context.Background(), domain.LoginRequest{
		Username: "cashier",
		Password: "cashier123",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("expected signature mismatch")
	}
}

func TestCreateCashier(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret-key", time.Hour, repo)
	ctx := context.Background()

	if _, err := auth.CreateCashier(ctx, domain.CashierCreateRequest{Username: "ab", Password: "secret1", FullName: "A B"}); err == nil {
		t.Fatal("expected rejection of short username")
	}
	if _, err := auth.CreateCashier(ctx, domain.CashierCreateRequest{Username: "newcashier", Password: "123", FullName: "New Cashier"}); err == nil {
		t.Fatal("expected rejection of short password")
	}
	if _, err := auth.CreateCashier(ctx, domain.CashierCreateRequest{Username: "newcashier", Password: "secret1"}); err == nil {
		t.Fatal("expected rejection of missing full name")
	}

	created, err := auth.CreateCashier(ctx, domain.CashierCreateRequest{
		Username: "NewCashier",
		Password: "secret1",
		FullName: "New Cashier",
	})
	if err != nil {
		t.Fatalf("create cashier: %v", err)
	}
	if created.Username != "newcashier" {
		t.Fatalf("expected lowercased username, got %q", created.Username)
	}
	if created.ID < 1 {
		t.Fatalf("expected assigned id, got %d", created.ID)
	}

	if _, err := auth.Login(ctx, domain.LoginRequest{Username: "newcashier", Password: "secret1"}); err != nil {
		t.Fatalf("login as new cashier: %v", err)
	}

	if _, err := auth.CreateCashier(ctx, domain.CashierCreateRequest{
		Username: "newcashier",
		Password: "secret1",
		FullName: "Duplicate",
	}); err == nil {
		t.Fatal("expected duplicate username rejection")
	}
}

func TestListCashiers(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	cashiers, err := auth.ListCashiers(context.Background())
	if err != nil {
		t.Fatalf("list cashiers: %v", err)
	}
	for _, c := range cashiers {
		if c.Role != domain.RoleCashier {
			t.Fatalf("non-cashier %q in cashier list", c.Username)
		}
	}
	if len(cashiers) != 1 {
		t.Fatalf("expected 1 seeded cashier, got %d", len(cashiers))
	}
}
