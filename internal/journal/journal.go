// Package journal keeps datapoint reports the bridge could not decode or map,
// as input for catalog curation.
package journal

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS unmapped_reports (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	received_at  TEXT    NOT NULL,
	ieee_address TEXT    NOT NULL,
	device_type  TEXT    NOT NULL,
	manufacturer TEXT    NOT NULL,
	dp           INTEGER NOT NULL,
	type_tag     INTEGER NOT NULL,
	raw_hex      TEXT    NOT NULL,
	reason       TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_unmapped_reports_type ON unmapped_reports(device_type, dp);
`

// Entry is one rejected report.
type Entry struct {
	ReceivedAt   time.Time
	IEEEAddress  uint64
	DeviceType   string
	Manufacturer string
	Datapoint    uint8
	TypeTag      uint8
	Raw          []byte
	Reason       string
}

type Journal interface {
	Record(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

type sqliteJournal struct {
	db *sql.DB
}

func Open(path string) (Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}

	return &sqliteJournal{db: db}, nil
}

func (j *sqliteJournal) Record(ctx context.Context, e Entry) error {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO unmapped_reports (received_at, ieee_address, device_type, manufacturer, dp, type_tag, raw_hex, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ReceivedAt.UTC().Format(time.RFC3339Nano),
		fmt.Sprintf("0x%016x", e.IEEEAddress),
		e.DeviceType,
		e.Manufacturer,
		e.Datapoint,
		e.TypeTag,
		hex.EncodeToString(e.Raw),
		e.Reason,
	)
	if err != nil {
		return fmt.Errorf("recording dp %d: %w", e.Datapoint, err)
	}

	return nil
}

// Recent returns the newest entries first.
func (j *sqliteJournal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT received_at, ieee_address, device_type, manufacturer, dp, type_tag, raw_hex, reason
		 FROM unmapped_reports ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ret []Entry
	for rows.Next() {
		var (
			e          Entry
			receivedAt string
			ieee       string
			rawHex     string
		)
		if err := rows.Scan(&receivedAt, &ieee, &e.DeviceType, &e.Manufacturer, &e.Datapoint, &e.TypeTag, &rawHex, &e.Reason); err != nil {
			return nil, err
		}

		if e.ReceivedAt, err = time.Parse(time.RFC3339Nano, receivedAt); err != nil {
			return nil, err
		}
		if _, err := fmt.Sscanf(ieee, "0x%x", &e.IEEEAddress); err != nil {
			return nil, err
		}
		if e.Raw, err = hex.DecodeString(rawHex); err != nil {
			return nil, err
		}

		ret = append(ret, e)
	}

	return ret, rows.Err()
}

func (j *sqliteJournal) Close() error {
	return j.db.Close()
}
