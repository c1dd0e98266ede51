package db

import (
	"database/sql"
	"strings"

	"github.com/teranos/netpulse/errors"
)

// ErrDatabaseClosed marks operations that ran after the connection pool was
// closed
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err comes from a closed pool or
// connection. database/sql does not export its closed error, so the message
// is matched as well.
func IsDatabaseClosed(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrDatabaseClosed), errors.Is(err, sql.ErrConnDone):
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
