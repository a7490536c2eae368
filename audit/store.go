// Package audit exports reconstructions and replay outcomes to SQLite so
// degraded runs can be inspected after the fact.
package audit

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/samaelod/reflow/engine"
	"github.com/samaelod/reflow/flow"
	"github.com/samaelod/reflow/types"
)

const timeFormat = time.RFC3339Nano

//go:embed schema.sql
var schema string

// Store is a SQLite audit database.
type Store struct {
	sqlDB *sql.DB
}

// FlowRow is the stored summary of one flow.
type FlowRow struct {
	Key          types.FlowKey
	Packets      int
	Bytes        int
	FirstSeq     uint64
	LastSeq      uint64
	Connected    bool
	ActiveClose  bool
	PassiveClose bool
}

type FlowlessRow struct {
	Seq      uint64
	Captured time.Time
	Summary  string
}

type ReplayRow struct {
	ID        int64
	StartedAt time.Time
	Keys      string
	Mode      string
	Counters  types.ReplayCounters
	Missing   string
	Stopped   bool
	StoppedBy string
	Elapsed   time.Duration
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveReconstruction replaces the stored flows and flowless packets with
// the current state of rec.
func (s *Store) SaveReconstruction(ctx context.Context, rec *flow.Reconstructor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM flows"); err != nil {
		return fmt.Errorf("clear flows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM flowless"); err != nil {
		return fmt.Errorf("clear flowless: %w", err)
	}

	insFlow, err := tx.PrepareContext(ctx, `INSERT INTO flows
		(protocol, addr_a, port_a, addr_b, port_b, packets, bytes, first_seq, last_seq, connected, active_close, passive_close)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare flows: %w", err)
	}
	defer insFlow.Close()

	store := rec.Store()
	for _, p := range types.Protocols {
		for k, f := range store.Flows(p) {
			entries := f.Entries()
			size := 0
			for _, e := range entries {
				size += len(e.Packet.Data())
			}
			last, _ := f.Last()
			_, err := insFlow.ExecContext(ctx,
				k.Protocol.String(), k.A.Addr, int(k.A.Port), k.B.Addr, int(k.B.Port),
				len(entries), size, int64(f.FirstSeq()), int64(last.Seq),
				f.Connected(), f.ActiveClose(), f.PassiveClose())
			if err != nil {
				return fmt.Errorf("insert flow %s: %w", k, err)
			}
		}
	}

	for _, e := range rec.Flowless() {
		_, err := tx.ExecContext(ctx, "INSERT INTO flowless (seq, captured, summary) VALUES (?, ?, ?)",
			int64(e.Seq), e.Packet.Timestamp().UTC().Format(timeFormat), e.Packet.Summary())
		if err != nil {
			return fmt.Errorf("insert flowless %d: %w", e.Seq, err)
		}
	}

	return tx.Commit()
}

// RecordReplay appends one replay outcome and returns its id.
func (s *Store) RecordReplay(ctx context.Context, startedAt time.Time, keys []types.FlowKey, res engine.Result) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	c := res.Counters
	r, err := s.sqlDB.ExecContext(ctx, `INSERT INTO replays
		(started_at, flow_keys, verify_mode, total, passed, failed, dropped, skipped, missing, stopped, stopped_by, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		startedAt.UTC().Format(timeFormat), joinKeys(keys), res.Mode.String(),
		c.Total, c.Passed, c.Failed, c.Dropped, c.Skipped,
		joinKeys(res.Missing), res.Stopped, res.StoppedBy, res.Elapsed.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("insert replay: %w", err)
	}
	return r.LastInsertId()
}

func joinKeys(keys []types.FlowKey) string {
	s := make([]string, len(keys))
	for i, k := range keys {
		s[i] = k.String()
	}
	return strings.Join(s, "; ")
}

// Flows returns the stored flows ordered by first sequence number.
func (s *Store) Flows(ctx context.Context) ([]FlowRow, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT protocol, addr_a, port_a, addr_b, port_b, packets, bytes,
		first_seq, last_seq, connected, active_close, passive_close FROM flows ORDER BY first_seq`)
	if err != nil {
		return nil, fmt.Errorf("query flows: %w", err)
	}
	defer rows.Close()

	var out []FlowRow
	for rows.Next() {
		var (
			r            FlowRow
			proto        string
			portA, portB int
			first, last  int64
		)
		if err := rows.Scan(&proto, &r.Key.A.Addr, &portA, &r.Key.B.Addr, &portB, &r.Packets, &r.Bytes,
			&first, &last, &r.Connected, &r.ActiveClose, &r.PassiveClose); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		p, err := types.ParseProtocol(proto)
		if err != nil {
			return nil, err
		}
		r.Key.Protocol = p
		r.Key.A.Port, r.Key.B.Port = uint16(portA), uint16(portB)
		r.FirstSeq, r.LastSeq = uint64(first), uint64(last)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Flowless(ctx context.Context) ([]FlowlessRow, error) {
	rows, err := s.sqlDB.QueryContext(ctx, "SELECT seq, captured, summary FROM flowless ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("query flowless: %w", err)
	}
	defer rows.Close()

	var out []FlowlessRow
	for rows.Next() {
		var (
			r        FlowlessRow
			seq      int64
			captured string
		)
		if err := rows.Scan(&seq, &captured, &r.Summary); err != nil {
			return nil, fmt.Errorf("scan flowless: %w", err)
		}
		r.Seq = uint64(seq)
		r.Captured, _ = time.Parse(timeFormat, captured)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Replays returns the recorded replays, most recent first.
func (s *Store) Replays(ctx context.Context) ([]ReplayRow, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT id, started_at, flow_keys, verify_mode, total, passed, failed,
		dropped, skipped, missing, stopped, stopped_by, elapsed_ms FROM replays ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query replays: %w", err)
	}
	defer rows.Close()

	var out []ReplayRow
	for rows.Next() {
		var (
			r       ReplayRow
			started string
			elapsed int64
		)
		c := &r.Counters
		if err := rows.Scan(&r.ID, &started, &r.Keys, &r.Mode, &c.Total, &c.Passed, &c.Failed,
			&c.Dropped, &c.Skipped, &r.Missing, &r.Stopped, &r.StoppedBy, &elapsed); err != nil {
			return nil, fmt.Errorf("scan replay: %w", err)
		}
		r.StartedAt, _ = time.Parse(timeFormat, started)
		r.Elapsed = time.Duration(elapsed) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}
