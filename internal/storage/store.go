// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package storage persists packet events to SQLite and implements the
// expiration policy: ordinary events are retained for a week, malicious
// events forever.
package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"grimm.is/nautscan/internal/clock"
	"grimm.is/nautscan/internal/errors"
	"grimm.is/nautscan/internal/event"
)

// DefaultRetention is how long a non-malicious packet record is kept.
const DefaultRetention = 7 * 24 * time.Hour

// Store handles persistence of packet events to SQLite.
type Store struct {
	db        *sql.DB
	clk       clock.Clock
	retention time.Duration
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock injects a clock, used by tests to control expiry.
func WithClock(c clock.Clock) StoreOption {
	return func(s *Store) { s.clk = c }
}

// WithRetention overrides the retention window for non-malicious events.
func WithRetention(d time.Duration) StoreOption {
	return func(s *Store) { s.retention = d }
}

// Open opens or creates the packet database.
func Open(path string, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open packet db: %w", err)
	}

	s := &Store{db: db, clk: clock.Real{}, retention: DefaultRetention}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS packets (
		id TEXT PRIMARY KEY,
		timestamp INTEGER NOT NULL, -- Unix nanoseconds
		source_ip TEXT NOT NULL,
		source_port INTEGER,
		source_device_name TEXT,
		destination_ip TEXT NOT NULL,
		destination_port INTEGER,
		destination_device_name TEXT,
		protocol TEXT NOT NULL,
		ip_version TEXT NOT NULL,
		length INTEGER NOT NULL,
		ttl INTEGER,
		flags TEXT,
		application_protocol TEXT,
		payload_excerpt TEXT,
		raw_packet BLOB,
		is_malicious INTEGER NOT NULL DEFAULT 0,
		threat_category TEXT,
		confidence_score REAL,
		notes TEXT,
		connection_id TEXT,
		created_at INTEGER NOT NULL,
		expire_at INTEGER -- NULL means never expire
	);
	CREATE INDEX IF NOT EXISTS idx_packets_expire ON packets(expire_at);
	CREATE INDEX IF NOT EXISTS idx_packets_time ON packets(timestamp);
	CREATE INDEX IF NOT EXISTS idx_packets_src ON packets(source_ip);
	CREATE INDEX IF NOT EXISTS idx_packets_dst ON packets(destination_ip);
	CREATE INDEX IF NOT EXISTS idx_packets_proto ON packets(protocol);
	CREATE INDEX IF NOT EXISTS idx_packets_malicious ON packets(is_malicious);
	`
	_, err := s.db.Exec(schema)
	return err
}

// InsertPacket durably writes one event. Expiration is computed here:
// nil for malicious events, now plus the retention window otherwise.
func (s *Store) InsertPacket(ev event.PacketEvent) error {
	var expireAt *time.Time
	if !ev.IsMalicious {
		t := s.clk.Now().Add(s.retention)
		expireAt = &t
	}

	_, err := s.db.Exec(`
		INSERT INTO packets (
			id, timestamp, source_ip, source_port, source_device_name,
			destination_ip, destination_port, destination_device_name,
			protocol, ip_version, length, ttl, flags, application_protocol,
			payload_excerpt, raw_packet, is_malicious, threat_category,
			confidence_score, notes, connection_id, created_at, expire_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Timestamp.UnixNano(), ev.SourceIP,
		nullInt(ev.SourcePort), nullStr(ev.SourceDeviceName),
		ev.DestinationIP, nullInt(ev.DestinationPort), nullStr(ev.DestinationDevName),
		string(ev.Protocol), string(ev.IPVersion), ev.Length,
		nullInt(ev.TTL), nullStr(ev.Flags), nullStr(ev.ApplicationProtocol),
		nullStr(ev.PayloadExcerpt), ev.RawPacket,
		boolToInt(ev.IsMalicious), nullStr(ev.ThreatCategory),
		nullFloat(ev.ConfidenceScore), nullStr(ev.Notes), nullStr(ev.ConnectionID),
		s.clk.Now().UnixNano(), nullTime(expireAt),
	)
	if err != nil {
		return errors.Wrap(err, errors.KindPersistence, "failed to insert packet")
	}
	return nil
}

// GetPacket loads one event by id.
func (s *Store) GetPacket(id string) (event.PacketEvent, error) {
	row := s.db.QueryRow(selectColumns+" FROM packets WHERE id = ?", id)
	ev, err := scanPacket(row)
	if err == sql.ErrNoRows {
		return event.PacketEvent{}, errors.Errorf(errors.KindNotFound, "packet %s not found", id)
	}
	if err != nil {
		return event.PacketEvent{}, errors.Wrap(err, errors.KindPersistence, "failed to load packet")
	}
	return ev, nil
}

// MarkMalicious flags an event as malicious, records the analyst details
// and clears its expiration so it is never deleted by housekeeping.
func (s *Store) MarkMalicious(id string, category *string, confidence *float64, notes *string) (event.PacketEvent, error) {
	res, err := s.db.Exec(`
		UPDATE packets
		SET is_malicious = 1, threat_category = ?, confidence_score = ?, notes = ?, expire_at = NULL
		WHERE id = ?`,
		nullStr(category), nullFloat(confidence), nullStr(notes), id)
	if err != nil {
		return event.PacketEvent{}, errors.Wrap(err, errors.KindPersistence, "failed to mark packet malicious")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return event.PacketEvent{}, errors.Wrap(err, errors.KindPersistence, "failed to mark packet malicious")
	}
	if affected == 0 {
		return event.PacketEvent{}, errors.Errorf(errors.KindNotFound, "packet %s not found", id)
	}
	return s.GetPacket(id)
}

// DeleteExpired removes every record whose expiration is non-null and has
// passed. Records with a NULL expire_at (malicious) are never touched.
func (s *Store) DeleteExpired(now time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM packets WHERE expire_at IS NOT NULL AND expire_at <= ?`,
		now.UnixNano())
	if err != nil {
		return 0, errors.Wrap(err, errors.KindPersistence, "failed to delete expired packets")
	}
	return res.RowsAffected()
}

// Filter narrows packet queries. Zero values mean "no constraint".
type Filter struct {
	Protocol      string
	SourceIP      string
	DestinationIP string
	IsMalicious   *bool
	StartTime     *time.Time
	EndTime       *time.Time
	ConnectionID  string
	Limit         int
	Offset        int
}

func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	if f.Protocol != "" {
		conds = append(conds, "protocol = ?")
		args = append(args, f.Protocol)
	}
	if f.SourceIP != "" {
		conds = append(conds, "source_ip = ?")
		args = append(args, f.SourceIP)
	}
	if f.DestinationIP != "" {
		conds = append(conds, "destination_ip = ?")
		args = append(args, f.DestinationIP)
	}
	if f.IsMalicious != nil {
		conds = append(conds, "is_malicious = ?")
		args = append(args, boolToInt(*f.IsMalicious))
	}
	if f.StartTime != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.StartTime.UnixNano())
	}
	if f.EndTime != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, f.EndTime.UnixNano())
	}
	if f.ConnectionID != "" {
		conds = append(conds, "connection_id = ?")
		args = append(args, f.ConnectionID)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// QueryPackets returns matching events newest-first with offset+limit
// pagination.
func (s *Store) QueryPackets(f Filter) ([]event.PacketEvent, error) {
	where, args := f.where()
	q := selectColumns + " FROM packets" + where + " ORDER BY timestamp DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindPersistence, "failed to query packets")
	}
	defer rows.Close()

	var events []event.PacketEvent
	for rows.Next() {
		ev, err := scanPacket(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindPersistence, "failed to scan packet")
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountPackets returns the number of events matching the filter,
// ignoring pagination.
func (s *Store) CountPackets(f Filter) (int, error) {
	where, args := f.where()
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM packets"+where, args...).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindPersistence, "failed to count packets")
	}
	return count, nil
}

// IPCount is one entry of the malicious blocklist aggregation.
type IPCount struct {
	IP    string `json:"ip"`
	Count int64  `json:"occurrence_count"`
}

// MaliciousIPs aggregates source and destination addresses over malicious
// records, for blocklist generation.
func (s *Store) MaliciousIPs() ([]IPCount, error) {
	rows, err := s.db.Query(`
		SELECT ip, SUM(n) FROM (
			SELECT source_ip AS ip, COUNT(*) AS n FROM packets WHERE is_malicious = 1 GROUP BY source_ip
			UNION ALL
			SELECT destination_ip AS ip, COUNT(*) AS n FROM packets WHERE is_malicious = 1 GROUP BY destination_ip
		) GROUP BY ip ORDER BY SUM(n) DESC`)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindPersistence, "failed to aggregate malicious ips")
	}
	defer rows.Close()

	var out []IPCount
	for rows.Next() {
		var c IPCount
		if err := rows.Scan(&c.IP, &c.Count); err != nil {
			return nil, errors.Wrap(err, errors.KindPersistence, "failed to scan malicious ip")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const selectColumns = `SELECT id, timestamp, source_ip, source_port, source_device_name,
	destination_ip, destination_port, destination_device_name,
	protocol, ip_version, length, ttl, flags, application_protocol,
	payload_excerpt, raw_packet, is_malicious, threat_category,
	confidence_score, notes, connection_id, expire_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPacket(row rowScanner) (event.PacketEvent, error) {
	var (
		ev        event.PacketEvent
		ts        int64
		srcPort   sql.NullInt64
		srcName   sql.NullString
		dstPort   sql.NullInt64
		dstName   sql.NullString
		proto     string
		ipVersion string
		ttl       sql.NullInt64
		flags     sql.NullString
		appProto  sql.NullString
		payload   sql.NullString
		malicious int
		category  sql.NullString
		conf      sql.NullFloat64
		notes     sql.NullString
		connID    sql.NullString
		expireAt  sql.NullInt64
	)
	err := row.Scan(&ev.ID, &ts, &ev.SourceIP, &srcPort, &srcName,
		&ev.DestinationIP, &dstPort, &dstName,
		&proto, &ipVersion, &ev.Length, &ttl, &flags, &appProto,
		&payload, &ev.RawPacket, &malicious, &category,
		&conf, &notes, &connID, &expireAt)
	if err != nil {
		return ev, err
	}

	ev.Timestamp = time.Unix(0, ts)
	ev.Protocol = event.Protocol(proto)
	ev.IPVersion = event.IPVersion(ipVersion)
	ev.IsMalicious = malicious != 0
	ev.SourcePort = fromNullInt(srcPort)
	ev.SourceDeviceName = fromNullStr(srcName)
	ev.DestinationPort = fromNullInt(dstPort)
	ev.DestinationDevName = fromNullStr(dstName)
	ev.TTL = fromNullInt(ttl)
	ev.Flags = fromNullStr(flags)
	ev.ApplicationProtocol = fromNullStr(appProto)
	ev.PayloadExcerpt = fromNullStr(payload)
	ev.ThreatCategory = fromNullStr(category)
	ev.Notes = fromNullStr(notes)
	ev.ConnectionID = fromNullStr(connID)
	if conf.Valid {
		ev.ConfidenceScore = &conf.Float64
	}
	if expireAt.Valid {
		t := time.Unix(0, expireAt.Int64)
		ev.ExpireAt = &t
	}
	return ev, nil
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UnixNano()
}

func fromNullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func fromNullStr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
