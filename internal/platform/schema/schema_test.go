package schema

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/advance-ops/backoffice/migrations"
)

func TestURL(t *testing.T) {
	got, err := URL("postgres://u:p@db:5432/backoffice?sslmode=disable")
	require.NoError(t, err)
	require.Equal(t, "pgx5://u:p@db:5432/backoffice?sslmode=disable", got)

	got, err = URL("postgresql://db/backoffice")
	require.NoError(t, err)
	require.Equal(t, "pgx5://db/backoffice", got)

	_, err = URL("mysql://u:secret@db/backoffice")
	require.Error(t, err)
	require.NotContains(t, err.Error(), "secret")
}

func TestDownRejectsNonPositiveSteps(t *testing.T) {
	require.Error(t, Down(migrations.FS, "postgres://db/backoffice", 0))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, name := range entries {
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected migration file %s", name)
		}
	}
	require.Equal(t, ups, downs)

	schema, err := fs.ReadFile(migrations.FS, "0001_init.up.sql")
	require.NoError(t, err)
	require.Contains(t, string(schema), "gateway_transaction_id TEXT NOT NULL UNIQUE")
}
