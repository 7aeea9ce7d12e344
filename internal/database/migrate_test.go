package database

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://u:p@localhost:5432/db?sslmode=disable", "pgx5://u:p@localhost:5432/db?sslmode=disable"},
		{"postgresql://u@db/x", "pgx5://u@db/x"},
		{"pgx5://already", "pgx5://already"},
	}
	for _, tt := range tests {
		if got := MigrateURL(tt.in); got != tt.want {
			t.Errorf("MigrateURL(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) == 0 {
		t.Fatal("no up migrations embedded")
	}
	for v := range ups {
		if !downs[v] {
			t.Errorf("migration %s has no down file", v)
		}
	}
}

func TestInitialSchemaHasLedgerTables(t *testing.T) {
	raw, err := fs.ReadFile(migrationsFS, "migrations/0001_init.up.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	sql := string(raw)
	for _, table := range []string{"users", "wallets", "package_activations", "return_ledger", "bonus_ledger",
		"points_ledger", "rebate_ledger", "award_ledger", "deposits", "withdrawals", "fundings", "payout_addresses"} {
		if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("schema missing table %s", table)
		}
	}
}

// Points halve once per level, so a 250 principal at level 10 needs ten
// fractional digits to be stored without rounding.
func TestInitialSchemaPointsKeepHalvingPrecision(t *testing.T) {
	raw, err := fs.ReadFile(migrationsFS, "migrations/0001_init.up.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	sql := string(raw)
	for _, col := range []string{"points ", "points_used "} {
		found := false
		for _, line := range strings.Split(sql, "\n") {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, col) {
				continue
			}
			found = true
			if !strings.Contains(line, "NUMERIC(30, 12)") {
				t.Errorf("column %q: got %q, want NUMERIC(30, 12)", strings.TrimSpace(col), line)
			}
		}
		if !found {
			t.Errorf("column %q not found", strings.TrimSpace(col))
		}
	}
}
