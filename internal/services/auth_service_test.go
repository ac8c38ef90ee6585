package services

import (
	"testing"
	"time"

	"github.com/okralab/okra-server/internal/store"
)

func TestSeedOperatorAndLogin(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewAuthService(st, func(username string, ttl time.Duration) (string, error) {
		return "token:" + username, nil
	})

	if err := svc.SeedOperator("admin", "hunter2"); err != nil {
		t.Fatalf("SeedOperator: %v", err)
	}

	res, err := svc.Login("admin", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token != "token:admin" || res.Username != "admin" {
		t.Fatalf("unexpected result %+v", res)
	}

	if _, err := svc.Login("admin", "wrong"); err == nil {
		t.Fatalf("expected error for wrong password")
	} else if se, ok := AsServiceError(err); !ok || se.Code != ErrorUnauthorized {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
	if _, err := svc.Login("missing", "hunter2"); err == nil {
		t.Fatalf("expected error for unknown operator")
	}
	if _, err := svc.Login("", ""); err == nil {
		t.Fatalf("expected error for empty credentials")
	}
}

func TestSeedOperatorReplacesPassword(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewAuthService(st, func(username string, ttl time.Duration) (string, error) {
		return "t", nil
	})
	if err := svc.SeedOperator("admin", "first"); err != nil {
		t.Fatalf("SeedOperator: %v", err)
	}
	if err := svc.SeedOperator("admin", "second"); err != nil {
		t.Fatalf("SeedOperator: %v", err)
	}
	if _, err := svc.Login("admin", "first"); err == nil {
		t.Fatalf("old password must stop working")
	}
	if _, err := svc.Login("admin", "second"); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

func TestSeedOperatorValidation(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewAuthService(st, nil)
	if err := svc.SeedOperator("", "pw"); err == nil {
		t.Fatalf("expected error for empty username")
	}
	if err := svc.SeedOperator("admin", " "); err == nil {
		t.Fatalf("expected error for blank password")
	}
}
