package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/overkillkulture/araya-discord-bot/araya"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestInitCommand(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	os.Setenv("ARAYA_DATABASE_TYPE", "sqlite")
	os.Setenv("ARAYA_DATABASE", dbPath)
	t.Cleanup(
		func() {
			os.Unsetenv("ARAYA_DATABASE_TYPE")
			os.Unsetenv("ARAYA_DATABASE")
		},
	)

	output := &bytes.Buffer{}
	rootCmd.SetOut(output)
	rootCmd.SetArgs([]string{"init"})
	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, output.String(), "Initialization complete")

	// Migrations should have created the ledger tables
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	require.NoError(t, err)
	for _, model := range []any{
		&araya.UserProgress{},
		&araya.XPAward{},
		&araya.Promotion{},
		&araya.Conversation{},
	} {
		assert.Truef(
			t,
			db.Migrator().HasTable(model),
			"expected table for %T",
			model,
		)
	}
}
