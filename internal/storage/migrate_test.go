package storage

import (
	"io/fs"
	"testing"
)

func TestMigrateURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/db?sslmode=disable": "pgx5://u:p@localhost:5432/db?sslmode=disable",
		"postgresql://u@h/db":                               "pgx5://u@h/db",
		"pgx5://u@h/db":                                     "pgx5://u@h/db",
	}
	for in, want := range cases {
		if got := MigrateURL(in); got != want {
			t.Fatalf("MigrateURL(%q)=%q want %q", in, got, want)
		}
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	files, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(files) != 4 {
		t.Fatalf("expected up and down migrations, got %v", files)
	}
}
