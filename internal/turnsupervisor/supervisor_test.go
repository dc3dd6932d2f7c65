package turnsupervisor

import (
	"net"
	"testing"

	"relayhub/internal/credentials"
)

func testConfig(port int) Config {
	return Config{
		PublicIP: net.ParseIP("203.0.113.7"),
		Port:     port,
		Realm:    "example.org",
		Username: "u",
		Password: "p",
	}
}

func TestSupervisor_DescriptorMatchesConfig(t *testing.T) {
	store := credentials.NewMemoryStore()
	s := New(testConfig(3478), store, nil)

	d := s.Descriptor()
	wantURLs := []string{"turn:203.0.113.7:3478", "turn:203.0.113.7:3478?transport=tcp"}
	if len(d.URLs) != 2 || d.URLs[0] != wantURLs[0] || d.URLs[1] != wantURLs[1] {
		t.Errorf("unexpected URLs: %+v", d.URLs)
	}
	if d.Username != "u" || d.Credential != "p" {
		t.Errorf("unexpected username/credential: %+v", d)
	}
}

func TestSupervisor_InstallsConfiguredCredential(t *testing.T) {
	store := credentials.NewMemoryStore()
	New(testConfig(3478), store, nil)

	key, ok := store.Lookup("u", "example.org", "")
	if !ok {
		t.Fatal("expected constructor to install the configured credential")
	}
	if string(key) != string(credentials.DeriveAuthKey("u", "example.org", "p")) {
		t.Error("installed key does not match expected derivation")
	}
}

func TestSupervisor_StartBindStopLifecycle(t *testing.T) {
	store := credentials.NewMemoryStore()
	s := New(testConfig(0), store, nil)

	if s.State() != StateConstructed {
		t.Fatalf("expected StateConstructed, got %s", s.State())
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.State() != StateServing {
		t.Fatalf("expected StateServing after Start, got %s", s.State())
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if s.State() != StateStopped {
		t.Fatalf("expected StateStopped after Stop, got %s", s.State())
	}

	// Stop after Stop is a no-op.
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
}

func TestSupervisor_AuthHandlerRejectsUnknownCredential(t *testing.T) {
	store := credentials.NewMemoryStore()
	s := New(testConfig(0), store, nil)

	addr, err := net.ResolveUDPAddr("udp", "198.51.100.1:1234")
	if err != nil {
		t.Fatalf("resolve addr: %v", err)
	}

	if _, ok := s.authHandler("u", "example.org", addr); !ok {
		t.Error("expected configured credential to authenticate")
	}
	if _, ok := s.authHandler("ghost", "example.org", addr); ok {
		t.Error("expected unknown username to fail authentication")
	}
	if s.AllocationAttempts() != 2 {
		t.Errorf("expected 2 allocation attempts observed, got %d", s.AllocationAttempts())
	}
}
