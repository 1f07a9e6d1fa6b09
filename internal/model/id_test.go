package model

import (
	"testing"
)

func TestGenerateID(t *testing.T) {
	types := []IDType{IDTypeJob, IDTypeRun, IDTypeTask}
	prefixes := []string{"job", "run", "task"}

	for i, idType := range types {
		t.Run(string(idType), func(t *testing.T) {
			id, err := GenerateID(idType)
			if err != nil {
				t.Fatalf("GenerateID(%s) returned error: %v", idType, err)
			}
			if !ValidateID(id) {
				t.Errorf("generated ID %q does not match regex", id)
			}
			if id[:len(prefixes[i])] != prefixes[i] {
				t.Errorf("expected prefix %q, got %q", prefixes[i], id[:len(prefixes[i])])
			}
		})
	}
}

func TestGenerateID_InvalidType(t *testing.T) {
	_, err := GenerateID("invalid")
	if err == nil {
		t.Error("expected error for invalid ID type")
	}
}

func TestGenerateID_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateID(IDTypeJob)
		if err != nil {
			t.Fatalf("GenerateID returned error: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		valid bool
	}{
		{"valid job", "job_1771722000_a3f2b7c1", true},
		{"valid run", "run_1771722060_b7c1d4e9", true},
		{"valid task", "task_1771722000_c3d4e5f6", true},
		{"invalid prefix", "xxx_1771722000_a3f2b7c1", false},
		{"short timestamp", "job_177172200_a3f2b7c1", false},
		{"short hex", "job_1771722000_a3f2b7c", false},
		{"uppercase hex", "job_1771722000_A3F2B7C1", false},
		{"empty", "", false},
		{"no separators", "job1771722000a3f2b7c1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateID(tt.id); got != tt.valid {
				t.Errorf("ValidateID(%q) = %v, want %v", tt.id, got, tt.valid)
			}
		})
	}
}

func TestParseIDType(t *testing.T) {
	idType, err := ParseIDType("run_1771722000_a3f2b7c1")
	if err != nil {
		t.Fatalf("ParseIDType returned error: %v", err)
	}
	if idType != IDTypeRun {
		t.Errorf("ParseIDType = %q, want %q", idType, IDTypeRun)
	}

	if _, err := ParseIDType("bogus"); err == nil {
		t.Error("expected error for malformed ID")
	}
}

func TestParseIDTimestamp(t *testing.T) {
	ts, err := ParseIDTimestamp("job_1771722000_a3f2b7c1")
	if err != nil {
		t.Fatalf("ParseIDTimestamp returned error: %v", err)
	}
	if ts.Unix() != 1771722000 {
		t.Errorf("timestamp = %d, want 1771722000", ts.Unix())
	}
}
