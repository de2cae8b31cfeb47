package testutil

import (
	"testing"

	"fbagent/internal/database"
)

// NewTestRepository creates a new in-memory SQLite repository with migrations applied.
// The repository is automatically closed when the test completes.
func NewTestRepository(t *testing.T) *database.SQLiteRepository {
	t.Helper()

	repo, err := database.NewSQLiteRepository(":memory:")
	if err != nil {
		t.Fatalf("failed to open repository: %v", err)
	}

	t.Cleanup(func() {
		repo.Close()
	})

	return repo
}
