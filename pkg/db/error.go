package db

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Constraint classes shared by every dialect we run on.
type violation int

const (
	violationNone violation = iota
	violationUnique
	violationOutOfRange
)

var (
	pgStates = map[string]violation{
		"23505": violationUnique,
		"22003": violationOutOfRange,
	}
	mysqlCodes = map[uint16]violation{
		1062: violationUnique,
		1264: violationOutOfRange,
		1690: violationOutOfRange,
	}
	// glebarez/sqlite surfaces modernc errors as plain messages.
	sqliteMessages = map[string]violation{
		"UNIQUE constraint failed": violationUnique,
		"integer overflow":         violationOutOfRange,
	}
)

func classify(err error) violation {
	if err == nil {
		return violationNone
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return violationUnique
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgStates[pgErr.Code]
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return mysqlCodes[myErr.Number]
	}

	msg := err.Error()
	for fragment, v := range sqliteMessages {
		if strings.Contains(msg, fragment) {
			return v
		}
	}
	return violationNone
}

// IsDuplicateKeyErr reports a unique index violation on any supported dialect.
func IsDuplicateKeyErr(err error) bool {
	return classify(err) == violationUnique
}

// IsOutOfRangeErr reports a numeric write the column type could not hold.
func IsOutOfRangeErr(err error) bool {
	return classify(err) == violationOutOfRange
}
