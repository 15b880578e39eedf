// Tests for [Registry] migration registration, detection, and sequential
// application.
package migrate

import (
	"errors"
	"strings"
	"testing"
)

// ///////////////////////////////////////////////
// Register
// ///////////////////////////////////////////////

func TestRegister_DuplicatePanics(t *testing.T) {
	r := &Registry{CurrentVersion: 2}
	r.Register(Migration{Version: 2, Description: "first"})

	defer func() {
		if recover() == nil {
			t.Fatal("duplicate Register did not panic")
		}
	}()
	r.Register(Migration{Version: 2, Description: "dup"})
}

// ///////////////////////////////////////////////
// NeedsMigration
// ///////////////////////////////////////////////

func TestNeedsMigration(t *testing.T) {
	r := &Registry{CurrentVersion: 3}
	r.Register(Migration{Version: 2})
	r.Register(Migration{Version: 3})

	tests := []struct {
		version int
		want    bool
	}{
		{1, true},
		{2, true},
		{3, false},
		{4, true}, // version from the future still mismatches
	}
	for _, tt := range tests {
		if got := r.NeedsMigration(tt.version); got != tt.want {
			t.Errorf("NeedsMigration(%d) = %v, want %v", tt.version, got, tt.want)
		}
	}
}

// ///////////////////////////////////////////////
// Run
// ///////////////////////////////////////////////

func TestRun_Sequential(t *testing.T) {
	r := &Registry{CurrentVersion: 3}
	// Registered out of order; Run must sort by version.
	r.Register(Migration{
		Version: 3,
		Upgrade: func(data []byte) ([]byte, error) {
			return append(data, 'c'), nil
		},
	})
	r.Register(Migration{
		Version: 2,
		Upgrade: func(data []byte) ([]byte, error) {
			return append(data, 'b'), nil
		},
	})

	data, version, err := r.Run([]byte("a"), 1)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if string(data) != "abc" {
		t.Errorf("data = %q, want abc (sorted application order)", data)
	}
	if version != 3 {
		t.Errorf("version = %d, want 3", version)
	}
}

func TestRun_SkipsAppliedVersions(t *testing.T) {
	r := &Registry{CurrentVersion: 3}
	r.Register(Migration{
		Version: 2,
		Upgrade: func(data []byte) ([]byte, error) {
			t.Error("migration to v2 ran for a v2 file")
			return data, nil
		},
	})
	r.Register(Migration{
		Version: 3,
		Upgrade: func(data []byte) ([]byte, error) {
			return append(data, '3'), nil
		},
	})

	data, version, err := r.Run([]byte("x"), 2)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if string(data) != "x3" || version != 3 {
		t.Errorf("Run = (%q, %d), want (x3, 3)", data, version)
	}
}

func TestRun_UpgradeFailure(t *testing.T) {
	boom := errors.New("boom")
	r := &Registry{CurrentVersion: 2}
	r.Register(Migration{
		Version: 2,
		Upgrade: func(data []byte) ([]byte, error) {
			return nil, boom
		},
	})

	_, version, err := r.Run([]byte("x"), 1)
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped boom", err)
	}
	if !strings.Contains(err.Error(), "v2") {
		t.Errorf("error %q does not name the failing version", err)
	}
	if version != 1 {
		t.Errorf("version = %d, want 1 (unchanged on failure)", version)
	}
}

func TestRun_NoMigrations(t *testing.T) {
	r := &Registry{CurrentVersion: 1}
	data, version, err := r.Run([]byte("x"), 1)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if string(data) != "x" || version != 1 {
		t.Errorf("Run = (%q, %d), want (x, 1)", data, version)
	}
}
