// Package setup handles mcoda workspace initialization.
package setup

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bekirdag/mcoda/internal/config"
	"github.com/bekirdag/mcoda/internal/jobstore"
	"github.com/bekirdag/mcoda/internal/lane"
	"github.com/bekirdag/mcoda/internal/routing"
)

const mcodaDir = ".mcoda"

// Run creates the .mcoda/ directory structure in the given workspace,
// writes the initial config.yaml, and opens the database once so every
// table exists before the first real command runs. workspaceID defaults to
// the directory basename if empty.
func Run(workspaceDir, workspaceID string) error {
	absDir, err := filepath.Abs(workspaceDir)
	if err != nil {
		return fmt.Errorf("resolve workspace dir: %w", err)
	}

	base := filepath.Join(absDir, mcodaDir)
	if _, err := os.Stat(base); err == nil {
		return fmt.Errorf("%s already exists", base)
	}

	if err := os.MkdirAll(filepath.Join(base, "jobs"), 0755); err != nil {
		return fmt.Errorf("create jobs directory: %w", err)
	}

	if workspaceID == "" {
		workspaceID = filepath.Base(absDir)
	}

	cfg := config.Default()
	cfg.Workspace.ID = workspaceID
	cfg.Workspace.Root = absDir
	cfg.Storage.DBPath = filepath.Join(base, "mcoda.db")

	if err := config.Save(filepath.Join(base, "config.yaml"), cfg); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}

	return migrateDatabase(cfg.Storage.DBPath)
}

func migrateDatabase(dbPath string) error {
	store, err := jobstore.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if _, err := routing.NewLocalBackend(store.DB()); err != nil {
		return fmt.Errorf("migrate routing tables: %w", err)
	}
	if _, err := lane.NewSQLiteStore(store.DB()); err != nil {
		return fmt.Errorf("migrate lane tables: %w", err)
	}
	return nil
}
