package sqlstore

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
	DialectDuckDB   Dialect = "duckdb"
)

// Target is a connection string resolved to a registered database/sql
// driver.
type Target struct {
	Dialect    Dialect
	DriverName string
	DSN        string
}

// ParseDSN accepts URL-style connection strings, including SQLAlchemy
// variants such as "postgresql+psycopg2://" and "mysql+pymysql://".
func ParseDSN(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("database dsn is required")
	}
	if strings.HasPrefix(raw, "file:") {
		return Target{Dialect: DialectSQLite, DriverName: "sqlite", DSN: raw}, nil
	}

	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return Target{}, fmt.Errorf("database dsn must start with a scheme")
	}
	scheme = strings.ToLower(scheme)
	if base, _, found := strings.Cut(scheme, "+"); found {
		scheme = base
	}

	switch scheme {
	case "postgres", "postgresql":
		return Target{Dialect: DialectPostgres, DriverName: "pgx", DSN: "postgres://" + rest}, nil
	case "mysql", "mariadb":
		dsn, err := mysqlDSN(rest)
		if err != nil {
			return Target{}, err
		}
		return Target{Dialect: DialectMySQL, DriverName: "mysql", DSN: dsn}, nil
	case "sqlite", "sqlite3":
		path := fileTargetPath(rest)
		if path == "" {
			path = ":memory:"
		}
		return Target{Dialect: DialectSQLite, DriverName: "sqlite", DSN: path}, nil
	case "duckdb":
		return Target{Dialect: DialectDuckDB, DriverName: "duckdb", DSN: fileTargetPath(rest)}, nil
	default:
		return Target{}, fmt.Errorf("unsupported database scheme %q", scheme)
	}
}

func mysqlDSN(rest string) (string, error) {
	parsed, err := url.Parse("mysql://" + rest)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("mysql dsn host is required")
	}

	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = parsed.Host
	if parsed.Port() == "" {
		cfg.Addr = parsed.Host + ":3306"
	}
	if parsed.User != nil {
		cfg.User = parsed.User.Username()
		cfg.Passwd, _ = parsed.User.Password()
	}
	cfg.DBName = strings.TrimPrefix(parsed.Path, "/")
	cfg.ParseTime = true
	for key, values := range parsed.Query() {
		if len(values) == 0 {
			continue
		}
		if cfg.Params == nil {
			cfg.Params = map[string]string{}
		}
		cfg.Params[key] = values[0]
	}
	return cfg.FormatDSN(), nil
}

// fileTargetPath follows the SQLAlchemy convention: three slashes for a
// relative path, four for an absolute one.
func fileTargetPath(rest string) string {
	rest, _, _ = strings.Cut(rest, "?")
	return strings.TrimPrefix(rest, "/")
}
