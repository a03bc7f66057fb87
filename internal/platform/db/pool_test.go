package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestValidSchema_Identifiers(t *testing.T) {
	tests := map[string]bool{
		"public":          true,
		"shadow_2024":     true,
		"_lab":            true,
		"":                false,
		"1shadow":         false,
		"shadow; DROP":    false,
		"tenant-a":        false,
		`"quoted"`:        false,
		"labshadow.inner": false,
	}
	for name, want := range tests {
		if got := ValidSchema(name); got != want {
			t.Errorf("ValidSchema(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestNewPool_RejectsInvalidSchema(t *testing.T) {
	_, err := NewPool(context.Background(), "postgres://localhost/lab", "bad schema", 2, 1)
	if err == nil {
		t.Fatal("expected error for invalid schema")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505"}
	if !IsUniqueViolation(unique) {
		t.Error("expected 23505 to be a unique violation")
	}
	if !IsUniqueViolation(fmt.Errorf("insert order: %w", unique)) {
		t.Error("expected wrapped 23505 to be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("foreign key violation is not a unique violation")
	}
	if IsUniqueViolation(errors.New("boom")) || IsUniqueViolation(nil) {
		t.Error("plain errors are not unique violations")
	}
}

func TestTxFromContext_Empty(t *testing.T) {
	if TxFromContext(context.Background()) != nil {
		t.Error("expected no transaction in a bare context")
	}
}
