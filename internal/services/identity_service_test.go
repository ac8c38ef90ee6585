package services

import (
	"strings"
	"testing"

	"github.com/okralab/okra-server/internal/store"
)

func TestRegisterConsumesRegistrationKey(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewIdentityService(st)
	p, err := svc.CreateParticipant()
	if err != nil {
		t.Fatalf("CreateParticipant: %v", err)
	}
	if p.Label != "unlabeled" || p.RegistrationKey == "" || p.DeviceKey != "" {
		t.Fatalf("unexpected new participant: %+v", p)
	}

	registered, err := svc.Register(p.ID, p.RegistrationKey)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(registered.DeviceKey) != 24 {
		t.Fatalf("expected 24-char device key, got %q", registered.DeviceKey)
	}
	if registered.RegistrationKey != "" {
		t.Fatalf("registration key should be consumed")
	}

	// The key is single-use.
	if _, err := svc.Register(p.ID, p.RegistrationKey); err == nil {
		t.Fatalf("expected error re-registering")
	} else if se, ok := AsServiceError(err); !ok || se.Code != ErrorInvalidCredentials {
		t.Fatalf("expected InvalidCredentials, got %v", err)
	}
}

func TestRegisterRejectsBadCredentials(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewIdentityService(st)
	p, err := svc.CreateParticipant()
	if err != nil {
		t.Fatalf("CreateParticipant: %v", err)
	}
	for _, tc := range []struct{ id, key string }{
		{"not-a-uuid", p.RegistrationKey},
		{p.ID, "wrong"},
		{p.ID, ""},
	} {
		_, err := svc.Register(tc.id, tc.key)
		if se, ok := AsServiceError(err); !ok || se.Code != ErrorInvalidCredentials {
			t.Fatalf("expected InvalidCredentials for (%q,%q), got %v", tc.id, tc.key, err)
		}
	}
}

func TestAuthenticate(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewIdentityService(st)
	p, err := svc.CreateParticipant()
	if err != nil {
		t.Fatalf("CreateParticipant: %v", err)
	}
	registered, err := svc.Register(p.ID, p.RegistrationKey)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := svc.Authenticate(p.ID, registered.DeviceKey)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != p.ID {
		t.Fatalf("wrong participant %s", got.ID)
	}

	if _, err := svc.Authenticate("", ""); err == nil {
		t.Fatalf("expected error for missing headers")
	} else if se, ok := AsServiceError(err); !ok || se.Code != ErrorMissingHeaders {
		t.Fatalf("expected MissingHeaders, got %v", err)
	}
	if _, err := svc.Authenticate(p.ID, "wrong"); err == nil {
		t.Fatalf("expected error for wrong device key")
	} else if se, ok := AsServiceError(err); !ok || se.Code != ErrorInvalidCredentials {
		t.Fatalf("expected InvalidCredentials, got %v", err)
	}
}

func TestUnregister(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewIdentityService(st)
	p, err := svc.CreateParticipant()
	if err != nil {
		t.Fatalf("CreateParticipant: %v", err)
	}
	registered, err := svc.Register(p.ID, p.RegistrationKey)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	key, err := svc.Unregister(p.ID, "")
	if err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if len(key) != 24 {
		t.Fatalf("expected minted 24-char key, got %q", key)
	}
	if _, err := svc.Authenticate(p.ID, registered.DeviceKey); err == nil {
		t.Fatalf("old device key must stop working")
	}

	key, err = svc.Unregister(p.ID, "fixed-key")
	if err != nil {
		t.Fatalf("Unregister with key: %v", err)
	}
	if key != "fixed-key" {
		t.Fatalf("expected provided key to be kept, got %q", key)
	}
	if _, err := svc.Register(p.ID, "fixed-key"); err != nil {
		t.Fatalf("re-register with new key: %v", err)
	}

	if _, err := svc.Unregister("missing", ""); err == nil {
		t.Fatalf("expected error for unknown participant")
	}
}

func TestRegistrationInfo(t *testing.T) {
	st := store.NewMemoryStore()
	svc := NewIdentityService(st)
	p, err := svc.CreateParticipant()
	if err != nil {
		t.Fatalf("CreateParticipant: %v", err)
	}

	info, err := svc.Registration(p.ID, "https://okra.example.org")
	if err != nil {
		t.Fatalf("Registration: %v", err)
	}
	wantQR := "https://okra.example.org\n" + p.ID + "\n" + p.RegistrationKey
	if info.QRData != wantQR {
		t.Fatalf("unexpected qr data %q", info.QRData)
	}
	if info.ParticipantID != p.ID || info.RegistrationKey != p.RegistrationKey {
		t.Fatalf("unexpected payload %+v", info)
	}

	if _, err := svc.Register(p.ID, p.RegistrationKey); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Registration(p.ID, "https://okra.example.org"); err == nil {
		t.Fatalf("expected error for registered participant")
	}
}

func TestRandomKey(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 32; i++ {
		key := RandomKey()
		if len(key) != keyLength {
			t.Fatalf("unexpected key length %d", len(key))
		}
		for _, c := range key {
			if !strings.ContainsRune(keyAlphabet, c) {
				t.Fatalf("key %q contains %q outside the alphabet", key, c)
			}
		}
		if seen[key] {
			t.Fatalf("duplicate key %q", key)
		}
		seen[key] = true
	}
}
