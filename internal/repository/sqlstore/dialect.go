package sqlstore

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Dialect holds the statements that differ between SQL engines
type Dialect struct {
	Name   string
	Driver string
	Schema []string

	upsert      string
	insert      string
	deleteTree  string
	isDuplicate func(error) bool
	maxConns    int
}

// SQLite targets modernc.org/sqlite. Writes are serialized through one connection.
var SQLite = Dialect{
	Name:   "sqlite",
	Driver: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS documents (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			path       TEXT NOT NULL UNIQUE,
			parent     TEXT NOT NULL,
			name       TEXT NOT NULL,
			data       TEXT NOT NULL,
			version    INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_parent_seq ON documents (parent, seq)`,
	},
	upsert: `INSERT INTO documents (path, parent, name, data, version, created_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT (path) DO UPDATE SET data = excluded.data, version = documents.version + 1`,
	insert: `INSERT INTO documents (path, parent, name, data, version, created_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT (path) DO NOTHING`,
	deleteTree:  `DELETE FROM documents WHERE path = ? OR substr(path, 1, length(?)) = ?`,
	isDuplicate: func(error) bool { return false },
	maxConns:    1,
}

// MySQL targets go-sql-driver/mysql
var MySQL = Dialect{
	Name:   "mysql",
	Driver: "mysql",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS documents (
			seq        BIGINT AUTO_INCREMENT PRIMARY KEY,
			path       VARCHAR(512) NOT NULL,
			parent     VARCHAR(512) NOT NULL,
			name       VARCHAR(255) NOT NULL,
			data       LONGTEXT NOT NULL,
			version    BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			UNIQUE KEY uq_documents_path (path),
			KEY idx_documents_parent_seq (parent, seq)
		) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin`,
	},
	upsert: `INSERT INTO documents (path, parent, name, data, version, created_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON DUPLICATE KEY UPDATE data = VALUES(data), version = version + 1`,
	insert: `INSERT INTO documents (path, parent, name, data, version, created_at)
		VALUES (?, ?, ?, ?, 1, ?)`,
	deleteTree:  `DELETE FROM documents WHERE path = ? OR SUBSTRING(path, 1, CHAR_LENGTH(?)) = ?`,
	isDuplicate: isMySQLDuplicate,
	maxConns:    20,
}

// mysqlDuplicateEntry is ER_DUP_ENTRY
const mysqlDuplicateEntry = 1062

func isMySQLDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

// DialectByName resolves a configured backend name
func DialectByName(name string) (Dialect, error) {
	switch name {
	case SQLite.Name:
		return SQLite, nil
	case MySQL.Name:
		return MySQL, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported sql dialect: %s", name)
	}
}

// SQLiteDSN builds a DSN enabling WAL and a busy timeout
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}
