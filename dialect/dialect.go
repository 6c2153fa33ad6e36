package dialect

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// KeyRetrieval tells how generated keys are read back after an insert.
type KeyRetrieval int

const (
	// KeysNone means the backend does not report generated keys.
	KeysNone KeyRetrieval = iota
	// KeysByIndex means the single generated key is the first column of the
	// generated keys row.
	KeysByIndex
	// KeysByName means the generated keys row carries named columns that are
	// mapped like a regular result row.
	KeysByName
)

// String implements fmt.Stringer.
func (k KeyRetrieval) String() string {
	switch k {
	case KeysByIndex:
		return "by-index"
	case KeysByName:
		return "by-name"
	default:
		return "none"
	}
}

// Page describes one page of a paginated select. The bounds select rows in
// (Low, High].
type Page struct {
	Distinct bool
	Table    string
	// Where is the constraint condition, without the WHERE keyword.
	Where string
	// OrderBy is the sort clause, without the ORDER BY keywords.
	OrderBy string
	Low     int
	High    int
}

// Paginator renders the SELECT statement of a page.
type Paginator func(Page) string

// Dialect is one backend variant. Dialects are immutable and compared by
// identity.
type Dialect struct {
	name      string
	sequence  func(string) string
	orderByID func(column, id string) string
	paginator Paginator
	keys      KeyRetrieval
	// pageColumn is the column the paginator adds to every row.
	pageColumn string
}

// The known variants.
var (
	MariaDBOld   = &Dialect{"MariaDBOld", nil, orderByBool, LimitOffset, KeysByIndex, ""}
	MariaDBNew   = &Dialect{"MariaDBNew", nextValueFor, orderByBool, LimitOffset, KeysByIndex, ""}
	MySQLOld     = &Dialect{"MySQLOld", nil, orderByBool, LimitOffset, KeysByIndex, ""}
	MySQLNew     = &Dialect{"MySQLNew", nextValueFor, orderByBool, LimitOffset, KeysByIndex, ""}
	OracleOld    = &Dialect{"OracleOld", fromDual, orderByCase, RowNumber, KeysNone, RowNumberColumn}
	OracleNew    = &Dialect{"OracleNew", fromDual, orderByCase, OffsetFetch, KeysNone, ""}
	SQLServerOld = &Dialect{"SQLServerOld", nextValueFor, orderByCase, RowNumber, KeysByName, RowNumberColumn}
	SQLServerNew = &Dialect{"SQLServerNew", nextValueFor, orderByCase, OffsetFetch, KeysByName, ""}
	PostgreSQL   = &Dialect{"PostgreSQL", nextval, orderByBool, LimitOffset, KeysByName, ""}
	SQLite       = &Dialect{"SQLite", nil, orderByBool, LimitOffset, KeysByIndex, ""}
	Unknown      = &Dialect{"Unknown", nil, orderByCase, LimitOffset, KeysNone, ""}
)

// Variants lists every known dialect.
var Variants = []*Dialect{
	MariaDBOld, MariaDBNew, MySQLOld, MySQLNew, OracleOld, OracleNew,
	SQLServerOld, SQLServerNew, PostgreSQL, SQLite, Unknown,
}

// Name returns the variant name.
func (d *Dialect) Name() string { return d.name }

// String implements fmt.Stringer.
func (d *Dialect) String() string { return d.name }

// Keys returns the generated key retrieval mode.
func (d *Dialect) Keys() KeyRetrieval { return d.keys }

// SequenceQuery returns the query fetching the next value of the sequence,
// or false if the backend has no native sequences.
func (d *Dialect) SequenceQuery(sequence string) (string, bool) {
	if d.sequence == nil {
		return "", false
	}
	return d.sequence(sequence), true
}

// OrderByID returns an ORDER BY fragment that sorts the row whose column
// equals id before any other. It returns false when id is nil.
func (d *Dialect) OrderByID(column string, id any) (string, bool) {
	if id == nil {
		return "", false
	}
	return d.orderByID(column, literal(id)), true
}

// Paginate renders the SELECT statement of the page.
func (d *Dialect) Paginate(p Page) string { return d.paginator(p) }

// PageColumn returns the name of the column added to the rows of a page by
// the paginator, or "" if pages only hold the table columns.
func (d *Dialect) PageColumn() string { return d.pageColumn }

// ByName returns the variant with the given name, compared
// case-insensitively.
func ByName(name string) (*Dialect, bool) {
	for _, d := range Variants {
		if strings.EqualFold(d.name, name) {
			return d, true
		}
	}
	return nil, false
}

// Match selects the variant of the described product. Product names are
// matched case-insensitively by substring.
func Match(md Metadata) *Dialect {
	name := strings.ToLower(md.ProductName)
	version := strings.ToLower(md.ProductVersion)
	switch {
	case strings.Contains(name, "oracle"):
		if md.Major >= 12 {
			return OracleNew
		}
		return OracleOld
	case strings.Contains(name, "sqlserver"), strings.Contains(name, "sql server"):
		if md.Major >= 11 {
			return SQLServerNew
		}
		return SQLServerOld
	case strings.Contains(name, "postgresql"):
		return PostgreSQL
	case strings.Contains(name, "sqlite"):
		return SQLite
	case strings.Contains(name, "mysql") && strings.Contains(version, "mariadb"):
		if md.Major > 10 || (md.Major == 10 && md.Minor >= 3) {
			return MariaDBNew
		}
		return MariaDBOld
	case strings.Contains(name, "mysql"):
		if md.Major >= 8 {
			return MySQLNew
		}
		return MySQLOld
	}
	return Unknown
}

// Find opens one connection, reads the product metadata and selects the
// variant. The connection is closed before Find returns.
func Find(ctx context.Context, c Connectivity) (_ *Dialect, rerr error) {
	conn, err := c.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("dialect: open connection: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			rerr = errors.Join(rerr, fmt.Errorf("dialect: close connection: %w", err))
		}
	}()
	md, err := conn.Metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("dialect: read metadata: %w", err)
	}
	return Match(md), nil
}

func nextValueFor(s string) string { return "SELECT NEXT VALUE FOR " + s }
func fromDual(s string) string     { return "SELECT " + s + ".NEXTVAL FROM dual" }
func nextval(s string) string      { return "SELECT nextval('" + s + "')" }

func orderByBool(column, id string) string { return "(" + column + " = " + id + ") DESC" }
func orderByCase(column, id string) string {
	return "CASE WHEN " + column + " = " + id + " THEN 0 ELSE 1 END"
}

// LimitOffset pages with LIMIT and OFFSET clauses.
func LimitOffset(p Page) string {
	return "SELECT " + distinct(p) + "* FROM " + p.Table + where(p) +
		" ORDER BY " + p.OrderBy + " LIMIT " + strconv.Itoa(p.High-p.Low) + " OFFSET " + strconv.Itoa(p.Low)
}

// OffsetFetch pages with OFFSET ... ROWS FETCH NEXT ... ROWS ONLY.
func OffsetFetch(p Page) string {
	return "SELECT " + distinct(p) + "* FROM " + p.Table + where(p) +
		" ORDER BY " + p.OrderBy + " OFFSET " + strconv.Itoa(p.Low) + " ROWS FETCH NEXT " + strconv.Itoa(p.High-p.Low) + " ROWS ONLY"
}

// RowNumberColumn is the row number column RowNumber adds to page rows.
const RowNumberColumn = "rn"

// RowNumber pages with a ROW_NUMBER() windowed subquery, for backends
// without paging clauses. Rows carry an extra RowNumberColumn.
func RowNumber(p Page) string {
	return "SELECT * FROM (SELECT " + distinct(p) + p.Table + ".*, ROW_NUMBER() OVER (ORDER BY " + p.OrderBy + ") " + RowNumberColumn + " FROM " +
		p.Table + where(p) + ") b WHERE b." + RowNumberColumn + " > " + strconv.Itoa(p.Low) +
		" AND b." + RowNumberColumn + " <= " + strconv.Itoa(p.High) + " ORDER BY " + RowNumberColumn
}

func distinct(p Page) string {
	if p.Distinct {
		return "DISTINCT "
	}
	return ""
}

func where(p Page) string {
	if p.Where == "" {
		return ""
	}
	return " WHERE " + p.Where
}

// literal renders an id value as an SQL literal.
func literal(v any) string {
	switch v := v.(type) {
	case *big.Int:
		return v.String()
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case []byte:
		return "'" + strings.ReplaceAll(string(v), "'", "''") + "'"
	case fmt.Stringer:
		return "'" + strings.ReplaceAll(v.String(), "'", "''") + "'"
	}
	return fmt.Sprint(v)
}
