// ABOUTME: SQLite driver registration and DSN construction
// ABOUTME: modernc.org/sqlite is the default; mattn/go-sqlite3 is available when built with cgo

package store

import (
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Driver names as registered with database/sql.
const (
	DriverModernc = "sqlite"
	DriverMattn   = "sqlite3"
)

const busyTimeoutMillis = 5000

// buildDSN returns a DSN enabling WAL, a busy timeout and foreign keys.
// Each driver spells its connection pragmas differently.
func buildDSN(driver, path string) (string, error) {
	switch driver {
	case DriverModernc:
		return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
			path, busyTimeoutMillis), nil
	case DriverMattn:
		return fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
			path, busyTimeoutMillis), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}
