package jsonio

import (
	"encoding/json"
	"fmt"
	"os"
)

const CurrentSchemaVersion = 1

type SchemaHeader struct {
	SchemaVersion int `json:"schema_version"`
}

func ValidateSchemaVersion(version int) error {
	if version < 1 {
		return fmt.Errorf("invalid schema_version %d (must be >= 1)", version)
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("unsupported schema_version %d (max supported: %d)", version, CurrentSchemaVersion)
	}
	return nil
}

func ValidateSchemaHeader(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return ValidateSchemaHeaderFromBytes(content)
}

func ValidateSchemaHeaderFromBytes(content []byte) error {
	var header SchemaHeader
	if err := json.Unmarshal(content, &header); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	return ValidateSchemaVersion(header.SchemaVersion)
}

func NeedsMigration(schemaVersion int) bool {
	return schemaVersion < CurrentSchemaVersion
}
