// Package runlog records transfer runs to a ClickHouse database, when one is
// configured. Without configuration or without a reachable server, every
// operation degrades to a silent no-op so the streaming tool works the same
// with or without the database.
package runlog

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/oklog/ulid/v2"
)

const databaseName = "feeddev" // official SQL name of the database

// Connection wraps one ClickHouse connection. The zero value (and any
// Connection whose setup failed) is usable: it records nothing.
type Connection struct {
	conn clickhouse.Conn
	err  error
}

// IsConnected reports whether run records will actually be stored.
func (db *Connection) IsConnected() bool {
	return (db != nil) && (db.conn != nil) && (db.err == nil)
}

// Connect opens a connection using the FEEDDEV_DB_USER / FEEDDEV_DB_PASSWORD
// environment variables. An unset user means logging is not wanted: the
// returned Connection is a no-op, not an error.
func Connect() *Connection {
	db := &Connection{}
	dbUser := os.Getenv("FEEDDEV_DB_USER")
	if dbUser == "" {
		return db
	}
	dbPass := os.Getenv("FEEDDEV_DB_PASSWORD")
	auth := clickhouse.Auth{
		Database: databaseName,
		Username: dbUser,
		Password: dbPass,
	}
	client := clickhouse.ClientInfo{
		Products: []struct {
			Name    string
			Version string
		}{
			{Name: "feeddev", Version: "unknown"},
		},
	}
	addr := os.Getenv("FEEDDEV_DB_ADDR")
	if addr == "" {
		addr = "localhost:9000"
	}
	opt := clickhouse.Options{
		Addr:       []string{addr},
		Auth:       auth,
		ClientInfo: client,
		TLS:        nil,
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = err
		return db
	}
	if err = conn.Ping(context.Background()); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			fmt.Printf("Exception [%d] %s \n%s\n", exception.Code, exception.Message, exception.StackTrace)
		}
		db.err = err
		return db
	}
	db.conn = conn
	return db
}

// NewID returns a fresh ULID for labeling a transfer run.
func NewID() string {
	return ulid.Make().String()
}

// FillHostInfo completes the host-derived fields of a message.
func FillHostInfo(m *TransferMessage) {
	if host, err := os.Hostname(); err == nil {
		m.Hostname = host
	}
	m.GoVersion = runtime.Version()
}

// RecordTransfer stores one transfer record (if the DB is open).
func (db *Connection) RecordTransfer(m *TransferMessage) {
	if !db.IsConnected() || m == nil {
		return
	}
	const nowait = false
	formattedStart := m.Start.Format("2006-01-02 15:04:05.000000")
	formattedEnd := m.End.Format("2006-01-02 15:04:05.000000")
	if err := db.conn.AsyncInsert(context.Background(),
		`INSERT INTO transfers VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, m.Hostname, m.Version, m.GoVersion, m.Device, m.Nchannels,
		m.Cyclic, m.Benchmark, m.Pushes, m.Bytes, m.ExitCode,
		formattedStart, formattedEnd,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into transfers ", err)
		db.err = err
	}
}

// Close shuts the connection down. Safe on a no-op Connection.
func (db *Connection) Close() {
	if db.IsConnected() {
		db.conn.Close()
		db.conn = nil
	}
}

// PingServer checks that a configured server answers, for diagnostics.
func PingServer() error {
	db := Connect()
	if !db.IsConnected() {
		return fmt.Errorf("database is not connected")
	}
	v, err := db.conn.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("ClickHouse server is alive. Version:\n%s\n", v)
	db.Close()
	return nil
}
