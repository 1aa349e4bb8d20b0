package database

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/hashicorp/go-version"
	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/satishbabariya/gorel/query/grammar"
)

// Config describes one named connection.
type Config struct {
	// Driver is mysql, mariadb, pgsql (postgres) or sqlite.
	Driver string `mapstructure:"driver"`
	// DSN is used as is when set; otherwise it is built from the fields below.
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	Charset   string `mapstructure:"charset"`
	Collation string `mapstructure:"collation"`
	Timezone  string `mapstructure:"timezone"`

	// Options holds driver options: sqlite journal_mode, synchronous, busy_timeout and
	// foreign_keys; URL parameters for postgres (sslmode, ...) and mysql.
	Options map[string]string `mapstructure:"options"`

	// StatementCache bounds the prepared statement cache. Defaults to 100.
	StatementCache int `mapstructure:"statement_cache"`
	// SlowQuery registers a slow query listener when positive.
	SlowQuery time.Duration `mapstructure:"slow_query"`
	// ServerVersion enables version-gated syntax without a round trip, e.g. "8.0.35".
	ServerVersion string `mapstructure:"server_version"`
}

// driverName maps a dialect to its database/sql driver.
func driverName(d grammar.Dialect) string {
	switch d {
	case grammar.MySQL:
		return "mysql"
	case grammar.Postgres:
		return "postgres"
	default:
		return "sqlite3"
	}
}

// newGrammar builds the dialect grammar, enabling MySQL row alias upserts on servers that
// support them.
func newGrammar(cfg Config) (grammar.Grammar, error) {
	g, err := grammar.New(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if g.Dialect() == grammar.MySQL && supportsRowAlias(cfg.ServerVersion) {
		return grammar.NewMySQL(grammar.WithRowAlias()), nil
	}
	return g, nil
}

var rowAliasSince = version.Must(version.NewVersion("8.0.19"))

func supportsRowAlias(server string) bool {
	if server == "" || strings.Contains(strings.ToLower(server), "mariadb") {
		return false
	}
	v, err := ParseServerVersion(server)
	if err != nil {
		return false
	}
	return v.GreaterThanOrEqual(rowAliasSince)
}

var leadingVersion = regexp.MustCompile(`^\d+(\.\d+)*`)

// ParseServerVersion parses the leading numeric part of a server version string such as
// "8.0.35-0ubuntu0.22.04.1" or "16.1 (Debian 16.1-1.pgdg120+1)".
func ParseServerVersion(raw string) (*version.Version, error) {
	match := leadingVersion.FindString(strings.TrimSpace(raw))
	if match == "" {
		return nil, fmt.Errorf("unrecognized server version %q", raw)
	}
	return version.NewVersion(match)
}

// buildDSN returns the driver data source name for cfg.
func buildDSN(d grammar.Dialect, cfg Config) (string, error) {
	switch d {
	case grammar.MySQL:
		return mysqlDSN(cfg)
	case grammar.Postgres:
		return postgresDSN(cfg), nil
	default:
		return sqliteDSN(cfg)
	}
}

func mysqlDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		if _, err := mysql.ParseDSN(cfg.DSN); err != nil {
			return "", fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		return cfg.DSN, nil
	}
	c := mysql.NewConfig()
	c.User = cfg.Username
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(hostOr(cfg.Host), strconv.Itoa(portOr(cfg.Port, 3306)))
	c.DBName = cfg.Database
	c.ParseTime = true
	c.Collation = cfg.Collation
	// Offsets such as +02:00 are valid for the session but not as a location.
	if loc, err := time.LoadLocation(cfg.Timezone); cfg.Timezone != "" && err == nil {
		c.Loc = loc
	}
	if len(cfg.Options) > 0 {
		c.Params = map[string]string{}
		for k, v := range cfg.Options {
			c.Params[k] = v
		}
	}
	return c.FormatDSN(), nil
}

func postgresDSN(cfg Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(hostOr(cfg.Host), strconv.Itoa(portOr(cfg.Port, 5432))),
		Path:   "/" + cfg.Database,
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	q := url.Values{}
	for k, v := range cfg.Options {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func sqliteDSN(cfg Config) (string, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = cfg.Database
	}
	if dsn == "" {
		return "", fmt.Errorf("%w: sqlite requires a database path", ErrConfiguration)
	}
	if timeout, ok := cfg.Options["busy_timeout"]; ok {
		if _, err := strconv.Atoi(timeout); err != nil {
			return "", fmt.Errorf("%w: busy_timeout must be milliseconds, got %q", ErrConfiguration, timeout)
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_busy_timeout=" + timeout
	}
	return dsn, nil
}

var pragmaValue = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// initStatements returns the session setup run right after connecting.
func initStatements(d grammar.Dialect, cfg Config) ([]string, error) {
	var stmts []string
	switch d {
	case grammar.MySQL:
		if cfg.Charset != "" {
			s := "set names " + mysqlLiteral(cfg.Charset)
			if cfg.Collation != "" {
				s += " collate " + mysqlLiteral(cfg.Collation)
			}
			stmts = append(stmts, s)
		}
		if cfg.Timezone != "" {
			stmts = append(stmts, "set time_zone = "+mysqlLiteral(mysqlOffset(cfg.Timezone)))
		}
	case grammar.Postgres:
		if cfg.Timezone != "" {
			stmts = append(stmts, "set time zone "+pq.QuoteLiteral(cfg.Timezone))
		}
	case grammar.SQLite:
		keys := make([]string, 0, len(cfg.Options))
		for k := range cfg.Options {
			if k == "journal_mode" || k == "synchronous" || k == "foreign_keys" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := cfg.Options[k]
			if !pragmaValue.MatchString(v) {
				return nil, fmt.Errorf("%w: invalid %s value %q", ErrConfiguration, k, v)
			}
			stmts = append(stmts, "pragma "+k+" = "+v)
		}
	}
	return stmts, nil
}

// mysqlOffset turns UTC into the offset form MySQL accepts without timezone tables.
func mysqlOffset(tz string) string {
	if strings.EqualFold(tz, "utc") {
		return "+00:00"
	}
	return tz
}

func mysqlLiteral(s string) string {
	return "'" + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), "'", "''") + "'"
}

func hostOr(h string) string {
	if h == "" {
		return "127.0.0.1"
	}
	return h
}

func portOr(p, def int) int {
	if p == 0 {
		return def
	}
	return p
}
