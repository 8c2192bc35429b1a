// Package clickhouse provides a sink that inserts records into a ClickHouse
// js_errors table, one prepared batch per Write.
package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/strongdm/jstrack/pkg/jstrack"
)

// DefaultTable is the table rows are inserted into.
const DefaultTable = "error_logs.js_errors"

// columns lists the insert columns in row order.
var columns = []string{"id", "timestamp", "type", "message", "source", "lineno", "colno", "stack", "url"}

// Batch is the subset of driver.Batch the sink uses.
type Batch interface {
	Append(v ...any) error
	Send() error
	Abort() error
}

// Conn is the subset of a ClickHouse connection the sink uses.
type Conn interface {
	PrepareBatch(ctx context.Context, query string) (Batch, error)
	Close() error
}

// ConnConfig holds ClickHouse connection parameters.
type ConnConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// driverConn adapts driver.Conn to Conn.
type driverConn struct {
	conn driver.Conn
}

func (c driverConn) PrepareBatch(ctx context.Context, query string) (Batch, error) {
	return c.conn.PrepareBatch(ctx, query)
}

func (c driverConn) Close() error {
	return c.conn.Close()
}

// NewConn opens and pings a ClickHouse connection.
func NewConn(cfg ConnConfig) (Conn, error) {
	options := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout:      5 * time.Second,
		MaxOpenConns:     3,
		MaxIdleConns:     2,
		ConnMaxLifetime:  5 * time.Minute,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	}

	if !isPrivateHost(cfg.Host) {
		options.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}

	return driverConn{conn: conn}, nil
}

func isPrivateHost(host string) bool {
	switch host {
	case "localhost", "host.docker.internal":
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsPrivate())
}

// ClickHouseSinkOption configures the ClickHouse sink.
type ClickHouseSinkOption func(*clickhouseSinkConfig)

type clickhouseSinkConfig struct {
	table   string
	pageURL string
}

// WithTable sets the destination table (default: error_logs.js_errors).
func WithTable(table string) ClickHouseSinkOption {
	return func(c *clickhouseSinkConfig) {
		if table != "" {
			c.table = table
		}
	}
}

// WithPageURL sets the url column for records that carry no base URL.
func WithPageURL(url string) ClickHouseSinkOption {
	return func(c *clickhouseSinkConfig) {
		c.pageURL = url
	}
}

// clickhouseSink inserts records into ClickHouse.
type clickhouseSink struct {
	conn    Conn
	query   string
	pageURL string
}

// NewClickHouseSink creates a sink that inserts into ClickHouse.
func NewClickHouseSink(conn Conn, opts ...ClickHouseSinkOption) jstrack.Sink {
	cfg := &clickhouseSinkConfig{
		table: DefaultTable,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &clickhouseSink{
		conn:    conn,
		query:   fmt.Sprintf("INSERT INTO %s (%s)", cfg.table, strings.Join(columns, ", ")),
		pageURL: cfg.pageURL,
	}
}

// Write appends every record to one prepared batch and sends it.
func (s *clickhouseSink) Write(ctx context.Context, records []jstrack.ErrorRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, s.query)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		if err := batch.Append(s.row(r)...); err != nil {
			batch.Abort()
			return fmt.Errorf("append row %s: %w", r.ID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch of %d: %w", len(records), err)
	}
	return nil
}

// row maps a record onto the insert columns.
func (s *clickhouseSink) row(r jstrack.ErrorRecord) []any {
	var (
		source        string
		lineno, colno uint32
		url           = s.pageURL
	)
	switch d := r.Description.(type) {
	case jstrack.RuntimeDescription:
		source = d.Source
		lineno = uint32(max(d.Line, 0))
		colno = uint32(max(d.Column, 0))
	case jstrack.LoadDescription:
		source = d.Href
		if d.BaseURL != "" {
			url = d.BaseURL
		}
	}

	timestamp := r.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	return []any{
		r.ID,
		timestamp,
		r.Kind.String(),
		r.Message(),
		source,
		lineno,
		colno,
		r.StackTrace,
		url,
	}
}

// Flush is a no-op for the ClickHouse sink (writes are synchronous).
func (s *clickhouseSink) Flush(ctx context.Context) error {
	return nil
}

// Close closes the connection.
func (s *clickhouseSink) Close() error {
	return s.conn.Close()
}
