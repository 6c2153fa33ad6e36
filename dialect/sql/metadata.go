package sql

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/syssam/storm/dialect"
)

// probes hold the version query and product name of each supported driver.
var probes = map[string]struct {
	query   string
	product string
}{
	dialect.Postgres:     {"SELECT version()", "PostgreSQL"},
	dialect.MySQL:        {"SELECT VERSION()", "MySQL"},
	dialect.SQLiteDriver: {"SELECT sqlite_version()", "SQLite"},
}

var versionRe = regexp.MustCompile(`(\d+)(?:\.(\d+))?`)

// Metadata implements dialect.Conn. database/sql exposes no product
// metadata, so the version is queried with the driver's version function
// unless the driver was configured WithProduct.
func (c *Conn) Metadata(ctx context.Context) (dialect.Metadata, error) {
	if c.product != nil {
		return *c.product, nil
	}
	p, ok := probes[c.dialect]
	if !ok {
		return dialect.Metadata{}, fmt.Errorf("dialect/sql: no metadata probe for driver %q", c.dialect)
	}
	ex, err := c.execer(ctx)
	if err != nil {
		return dialect.Metadata{}, err
	}
	var version string
	if err := ex.QueryRowContext(ctx, p.query).Scan(&version); err != nil {
		return dialect.Metadata{}, fmt.Errorf("dialect/sql: metadata: %w", err)
	}
	return ParseVersion(p.product, version), nil
}

// ParseVersion builds the metadata of product from a version string such as
// "8.0.36", "10.11.6-MariaDB" or "PostgreSQL 16.2 on x86_64-pc-linux-gnu".
func ParseVersion(product, version string) dialect.Metadata {
	md := dialect.Metadata{ProductName: product, ProductVersion: strings.TrimSpace(version)}
	if m := versionRe.FindStringSubmatch(version); m != nil {
		md.Major, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			md.Minor, _ = strconv.Atoi(m[2])
		}
	}
	return md
}
