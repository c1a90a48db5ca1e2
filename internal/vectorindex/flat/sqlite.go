package flat

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"docqa/internal/domain"
)

// SQLiteCodec stores entries as rows of a single-file SQLite database.
type SQLiteCodec struct{}

func (SQLiteCodec) FileName() string { return "index.sqlite" }

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS entries (
		seq    INTEGER PRIMARY KEY,
		id     TEXT NOT NULL,
		source TEXT NOT NULL,
		page   INTEGER NOT NULL,
		text   TEXT NOT NULL,
		vector BLOB NOT NULL
	)`,
}

type entryRow struct {
	ID     string `db:"id"`
	Source string `db:"source"`
	Page   int    `db:"page"`
	Text   string `db:"text"`
	Vector []byte `db:"vector"`
}

func (SQLiteCodec) Encode(ctx context.Context, path string, snap Snapshot) error {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	meta := map[string]string{
		"version":   strconv.Itoa(snap.Version),
		"model":     snap.Model,
		"dimension": strconv.Itoa(snap.Dimension),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("write meta %s: %w", k, err)
		}
	}
	stmt, err := tx.PreparexContext(ctx, `INSERT INTO entries (seq, id, source, page, text, vector) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, e := range snap.Entries {
		if _, err := stmt.ExecContext(ctx, i, e.ID, e.Chunk.Meta.Source, e.Chunk.Meta.Page, e.Chunk.Text, encodeVector(e.Vector)); err != nil {
			return fmt.Errorf("write entry %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (SQLiteCodec) Decode(ctx context.Context, path string) (Snapshot, error) {
	var snap Snapshot
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return snap, err
	}
	defer db.Close()

	var metaRows []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}
	if err := db.SelectContext(ctx, &metaRows, `SELECT key, value FROM meta`); err != nil {
		return snap, fmt.Errorf("read meta: %w", err)
	}
	for _, m := range metaRows {
		switch m.Key {
		case "version":
			snap.Version, err = strconv.Atoi(m.Value)
		case "model":
			snap.Model = m.Value
		case "dimension":
			snap.Dimension, err = strconv.Atoi(m.Value)
		}
		if err != nil {
			return snap, fmt.Errorf("meta %s: %w", m.Key, err)
		}
	}

	var rows []entryRow
	if err := db.SelectContext(ctx, &rows, `SELECT id, source, page, text, vector FROM entries ORDER BY seq`); err != nil {
		return snap, fmt.Errorf("read entries: %w", err)
	}
	snap.Entries = make([]domain.Entry, len(rows))
	for i, r := range rows {
		vec, err := decodeVector(r.Vector)
		if err != nil {
			return snap, fmt.Errorf("entry %s: %w", r.ID, err)
		}
		snap.Entries[i] = domain.Entry{
			ID:     r.ID,
			Vector: vec,
			Chunk:  domain.Chunk{Text: r.Text, Meta: domain.Metadata{Source: r.Source, Page: r.Page}},
		}
	}
	return snap, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob has %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
