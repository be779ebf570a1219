package datasource

import (
	"context"
	"fmt"
	"reflect"

	"github.com/ClickHouse/clickhouse-go/v2"
	chdriver "github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"netspectra-core/internal/config"
	"netspectra-core/internal/query/lang"
)

// ClickHouse adapts a ClickHouse connection to the query language's
// DataSource interface: every resource name is a table in the configured
// database, fetched in full and handed to the evaluator for filtering,
// joining and aggregation in-process.
type ClickHouse struct {
	conn clickhouse.Conn
}

// NewClickHouse opens a connection to the ClickHouse server described by
// cfg and verifies it is reachable.
func NewClickHouse(cfg config.ClickHouseConfig) (*ClickHouse, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("datasource: opening clickhouse connection: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("datasource: pinging clickhouse: %w", err)
	}
	return &ClickHouse{conn: conn}, nil
}

func (c *ClickHouse) Resource(ctx context.Context, name string) (lang.Resource, error) {
	rows, err := c.conn.Query(ctx, fmt.Sprintf("SELECT * FROM %s", quoteIdent(name)))
	if err != nil {
		return nil, fmt.Errorf("datasource: querying table %q: %w", name, err)
	}
	return &clickhouseResource{name: name, rows: rows}, nil
}

// quoteIdent backtick-quotes a table name. Table names come from parsed
// query resource identifiers (letters, digits, '_' and '$' only, see the
// lexer), never from raw user text, so this is a formatting step rather
// than an injection defense in its own right.
func quoteIdent(name string) string {
	return "`" + name + "`"
}

type clickhouseResource struct {
	name string
	rows chdriver.Rows
}

func (r *clickhouseResource) Name() string { return r.name }

func (r *clickhouseResource) Fetch(context.Context) ([]lang.Row, error) {
	defer r.rows.Close()

	cols := r.rows.ColumnTypes()
	var out []lang.Row
	for r.rows.Next() {
		values := make([]interface{}, len(cols))
		for i, ct := range cols {
			values[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := r.rows.Scan(values...); err != nil {
			return nil, fmt.Errorf("datasource: scanning row from %q: %w", r.name, err)
		}
		row := make(lang.Row, len(cols))
		for i, ct := range cols {
			row[ct.Name()] = reflect.ValueOf(values[i]).Elem().Interface()
		}
		out = append(out, row)
	}
	return out, r.rows.Err()
}
