package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestClassifyDriverErrors(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		duplicate  bool
		outOfRange bool
	}{
		{"nil", nil, false, false},
		{"gorm", gorm.ErrDuplicatedKey, true, false},
		{"postgres unique", &pgconn.PgError{Code: "23505"}, true, false},
		{"postgres wrapped", fmt.Errorf("insert subscription: %w", &pgconn.PgError{Code: "23505"}), true, false},
		{"postgres bigint", &pgconn.PgError{Code: "22003"}, false, true},
		{"postgres other", &pgconn.PgError{Code: "40001"}, false, false},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, true, false},
		{"mysql range", &mysql.MySQLError{Number: 1690}, false, true},
		{"sqlite unique", errors.New("constraint failed: UNIQUE constraint failed: usage_limits.tenant_id (2067)"), true, false},
		{"sqlite overflow", errors.New("integer overflow"), false, true},
		{"other", errors.New("connection refused"), false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsDuplicateKeyErr(tc.err); got != tc.duplicate {
				t.Fatalf("IsDuplicateKeyErr: expected %v, got %v", tc.duplicate, got)
			}
			if got := IsOutOfRangeErr(tc.err); got != tc.outOfRange {
				t.Fatalf("IsOutOfRangeErr: expected %v, got %v", tc.outOfRange, got)
			}
		})
	}
}
