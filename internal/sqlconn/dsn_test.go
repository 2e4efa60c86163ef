package sqlconn

import (
	"strings"
	"testing"
	"time"
)

func TestParseDSNSQLite(t *testing.T) {
	c, err := parseDSN("sqlite:///var/lib/app.db?pool_readers=2&pool_writers=3&busy_timeout=750ms&_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatalf("parseDSN returned error: %v", err)
	}
	if c.dialect.name != "sqlite" || c.dialect.driver != "sqlite" {
		t.Fatalf("unexpected dialect %+v", c.dialect)
	}
	if c.driverDSN != "/var/lib/app.db?_pragma=foreign_keys(1)" {
		t.Fatalf("unexpected driver DSN %q", c.driverDSN)
	}
	if c.maxReaders != 2 || c.maxWriters != 3 {
		t.Fatalf("expected pools 2/3, got %d/%d", c.maxReaders, c.maxWriters)
	}
	if c.busyTimeout != 750*time.Millisecond {
		t.Fatalf("expected busyTimeout=750ms, got %s", c.busyTimeout)
	}
	if c.memory {
		t.Fatalf("file database reported as memory")
	}
}

func TestParseDSNMemory(t *testing.T) {
	c, err := parseDSN("sqlite::memory:")
	if err != nil {
		t.Fatalf("parseDSN returned error: %v", err)
	}
	if !c.memory || c.driverDSN != ":memory:" {
		t.Fatalf("expected memory DSN, got %+v", c)
	}
	if c.maxWriters != 1 {
		t.Fatalf("expected default single writer, got %d", c.maxWriters)
	}
}

func TestParseDSNServers(t *testing.T) {
	tests := []struct {
		dsn     string
		dialect string
		driver  string
		want    string
	}{
		{"postgres://u:p@localhost/app?sslmode=disable&pool_readers=8", "postgres", "pgx", "postgres://u:p@localhost/app?sslmode=disable"},
		{"postgresql://localhost/app", "postgres", "pgx", "postgresql://localhost/app"},
		{"mysql://u:p@tcp(localhost:3306)/app?parseTime=true&busytimeout=100", "mysql", "mysql", "u:p@tcp(localhost:3306)/app?parseTime=true"},
		{"sqlserver://sa:pw@localhost?database=app&write_pool=2", "sqlserver", "sqlserver", "sqlserver://sa:pw@localhost?database=app"},
	}
	for _, tt := range tests {
		c, err := parseDSN(tt.dsn)
		if err != nil {
			t.Fatalf("parseDSN(%q) returned error: %v", tt.dsn, err)
		}
		if c.dialect.name != tt.dialect || c.dialect.driver != tt.driver {
			t.Errorf("%s: dialect %s/%s; want %s/%s", tt.dsn, c.dialect.name, c.dialect.driver, tt.dialect, tt.driver)
		}
		if c.driverDSN != tt.want {
			t.Errorf("%s: driver DSN %q; want %q", tt.dsn, c.driverDSN, tt.want)
		}
	}
}

func TestParseDSNErrors(t *testing.T) {
	for _, dsn := range []string{"", "sqlite:", "oracle://x", "postgres://h/db?pool_readers=abc", "sqlite:x.db?busy_timeout=nope"} {
		if _, err := parseDSN(dsn); err == nil {
			t.Errorf("expected error for %q", dsn)
		}
	}
}

func TestParseDSNErrorRedactsPassword(t *testing.T) {
	_, err := parseDSN("oracle://scott:tiger@db/orcl")
	if err == nil {
		t.Fatalf("expected error")
	}
	if strings.Contains(err.Error(), "tiger") {
		t.Fatalf("password leaked into error: %v", err)
	}
}

func TestParsePoolSize(t *testing.T) {
	if n, err := parsePoolSize("5", "pool_readers"); err != nil || n != 5 {
		t.Fatalf("expected 5, got %d (err=%v)", n, err)
	}
	if _, err := parsePoolSize("abc", "pool_readers"); err == nil {
		t.Fatalf("expected error for invalid number")
	}
	if _, err := parsePoolSize("-2", "pool_readers"); err == nil {
		t.Fatalf("expected error for negative value")
	}
}

func TestParseBusyTimeout(t *testing.T) {
	if dur, err := parseBusyTimeout("1500"); err != nil || dur != 1500*time.Millisecond {
		t.Fatalf("expected 1500ms, got %s (err=%v)", dur, err)
	}
	if dur, err := parseBusyTimeout("2s"); err != nil || dur != 2*time.Second {
		t.Fatalf("expected 2s, got %s (err=%v)", dur, err)
	}
	if _, err := parseBusyTimeout("-1"); err == nil {
		t.Fatalf("expected error for negative duration")
	}
	if _, err := parseBusyTimeout("later"); err == nil {
		t.Fatalf("expected error for invalid duration string")
	}
}
