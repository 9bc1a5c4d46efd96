package apply

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Decision classifies an apply error.
type Decision int

const (
	// Failure is a real per-object error; log it, count it, continue.
	Failure Decision = iota
	// Ignorable means the object already exists; count as success.
	Ignorable
	// Fatal means the connection is gone; abort the run.
	Fatal
)

// SQLSTATE codes for the duplicate-object family.
var ignorableCodes = map[string]bool{
	"42P07": true, // duplicate_table
	"42P06": true, // duplicate_schema
	"42710": true, // duplicate_object
	"42723": true, // duplicate_function
	"42701": true, // duplicate_column
	"23505": true, // unique_violation
}

// Classify inspects an apply error and decides how the caller should
// proceed. Driver errors are classified by SQLSTATE; anything else falls
// back to message content.
func Classify(err error) Decision {
	if err == nil {
		return Ignorable
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if ignorableCodes[pgErr.Code] {
			return Ignorable
		}
		// Class 08 is connection exception.
		if strings.HasPrefix(pgErr.Code, "08") {
			return Fatal
		}
		return Failure
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already exists"),
		strings.Contains(msg, "duplicate"):
		return Ignorable
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "failed to connect"),
		strings.Contains(msg, "broken pipe"):
		return Fatal
	default:
		return Failure
	}
}
