package jsonio

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAtomicWrite_Success(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")

	data := map[string]any{"key": "value", "count": 42}
	if err := AtomicWrite(path, data); err != nil {
		t.Fatalf("AtomicWrite failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal(content, &result); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if result["key"] != "value" {
		t.Errorf("key: got %v, want %q", result["key"], "value")
	}
}

func TestAtomicWrite_CreatesBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")

	if err := AtomicWrite(path, map[string]string{"version": "1"}); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := AtomicWrite(path, map[string]string{"version": "2"}); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	bakContent, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("ReadFile .bak failed: %v", err)
	}

	var bakData map[string]string
	if err := json.Unmarshal(bakContent, &bakData); err != nil {
		t.Fatalf("Unmarshal .bak failed: %v", err)
	}
	if bakData["version"] != "1" {
		t.Errorf("backup version: got %q, want %q", bakData["version"], "1")
	}

	curContent, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile current failed: %v", err)
	}

	var curData map[string]string
	if err := json.Unmarshal(curContent, &curData); err != nil {
		t.Fatalf("Unmarshal current failed: %v", err)
	}
	if curData["version"] != "2" {
		t.Errorf("current version: got %q, want %q", curData["version"], "2")
	}
}

func TestAtomicWriteRaw_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")

	invalidJSON := []byte(`{"broken": [`)
	err := AtomicWriteRaw(path, invalidJSON)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should not exist after failed write")
	}
}

func TestAtomicWrite_NoTempFileLeftOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")

	invalidJSON := []byte(`{"broken":`)
	_ = AtomicWriteRaw(path, invalidJSON)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}

	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".mcoda-tmp-") {
			t.Errorf("unexpected temp file remaining: %s", entry.Name())
		}
	}
}

func TestValidateSchemaVersion(t *testing.T) {
	tests := []struct {
		version int
		wantErr bool
	}{
		{1, false},
		{0, true},
		{-1, true},
		{CurrentSchemaVersion + 1, true},
	}
	for _, tt := range tests {
		err := ValidateSchemaVersion(tt.version)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateSchemaVersion(%d) error = %v, wantErr %v", tt.version, err, tt.wantErr)
		}
	}
}

func TestValidateSchemaHeaderFromBytes(t *testing.T) {
	if err := ValidateSchemaHeaderFromBytes([]byte(`{"schema_version": 1, "job_id": "job_1771722000_a3f2b7c1"}`)); err != nil {
		t.Errorf("valid header rejected: %v", err)
	}
	if err := ValidateSchemaHeaderFromBytes([]byte(`{"schema_version": 99}`)); err == nil {
		t.Error("expected error for future schema version")
	}
	if err := ValidateSchemaHeaderFromBytes([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed json")
	}
}
