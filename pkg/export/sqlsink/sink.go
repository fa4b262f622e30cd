// Package sqlsink implements pipeline.Sink against a SQL database, durably
// recording every terminal match, metadata report, problem, and status
// update an Exporter drains off its four queues. Both Postgres (via
// github.com/lib/pq) and SQLite (via modernc.org/sqlite) are supported;
// they differ in parameter placeholder syntax (kept in one place by the
// driver's placeholder method), the JSON column type, and the id column
// type (BIGSERIAL on Postgres, INTEGER AUTOINCREMENT on SQLite).
package sqlsink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/AsgerHL/Bachelor-POC/pkg/messages"
	"github.com/AsgerHL/Bachelor-POC/pkg/model"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var sqliteSerial = regexp.MustCompile(`BIGSERIAL PRIMARY KEY`)

// Driver names the two supported backends. The zero value is invalid.
type Driver string

const (
	Postgres Driver = "postgres"
	SQLite   Driver = "sqlite"
)

// Sink durably persists pipeline export events to a SQL database.
type Sink struct {
	db     *sql.DB
	driver Driver
}

// New wraps db as a Sink, running the schema migration before returning.
// driver must be Postgres or SQLite; it only changes placeholder syntax,
// the JSON column type and the id column type, since both backends
// otherwise speak the same
// SQL dialect for the statements this package issues.
func New(db *sql.DB, driver Driver) (*Sink, error) {
	switch driver {
	case Postgres, SQLite:
	default:
		return nil, fmt.Errorf("sqlsink: unsupported driver %q", driver)
	}
	s := &Sink{db: db, driver: driver}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("sqlsink: migrating schema: %w", err)
	}
	return s, nil
}

// placeholder renders the nth (1-indexed) bind parameter for the sink's
// driver: "$n" for Postgres, "?" for SQLite.
func (s *Sink) placeholder(n int) string {
	if s.driver == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *Sink) migrate(ctx context.Context) error {
	jsonType := "JSON"
	if s.driver == SQLite {
		jsonType = "TEXT"
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS matches (
			id BIGSERIAL PRIMARY KEY,
			scanner_pk BIGINT,
			scanner_name TEXT,
			scan_time TIMESTAMP,
			scan_user TEXT,
			scan_organisation TEXT,
			handle_type TEXT,
			presentation TEXT,
			presentation_url TEXT,
			value %s,
			matched BOOLEAN,
			matches %[1]s,
			created_at TIMESTAMP
		)`, jsonType),
		`CREATE TABLE IF NOT EXISTS metadata (
			id BIGSERIAL PRIMARY KEY,
			scanner_pk BIGINT,
			scanner_name TEXT,
			scan_time TIMESTAMP,
			scan_user TEXT,
			scan_organisation TEXT,
			crunch TEXT,
			owner TEXT,
			last_modified TIMESTAMP,
			mime TEXT,
			presentation_url TEXT,
			created_at TIMESTAMP
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS problems (
			id BIGSERIAL PRIMARY KEY,
			scanner_pk BIGINT,
			scanner_name TEXT,
			scan_time TIMESTAMP,
			scan_user TEXT,
			scan_organisation TEXT,
			where_ TEXT,
			problem TEXT,
			extra %s,
			created_at TIMESTAMP
		)`, jsonType),
		`CREATE TABLE IF NOT EXISTS status_updates (
			id BIGSERIAL PRIMARY KEY,
			scanner_pk BIGINT,
			scanner_name TEXT,
			scan_time TIMESTAMP,
			scan_user TEXT,
			scan_organisation TEXT,
			message TEXT,
			status_is_error BOOLEAN,
			total_objects BIGINT,
			new_sources BIGINT,
			object_size BIGINT,
			object_type TEXT,
			created_at TIMESTAMP
		)`,
	}
	if s.driver == SQLite {
		for i, stmt := range stmts {
			stmts[i] = sqliteSerial.ReplaceAllString(stmt, "INTEGER PRIMARY KEY AUTOINCREMENT")
		}
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Match records a terminal match outcome. Non-terminal messages are never
// handed to the sink by the Exporter, so Match assumes m.Terminal.
func (s *Sink) Match(ctx context.Context, m messages.MatchMessage) error {
	matchesJSON, err := json.Marshal(m.Matches)
	if err != nil {
		return fmt.Errorf("sqlsink: marshalling match fragments: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO matches (
		scanner_pk, scanner_name, scan_time, scan_user, scan_organisation,
		handle_type, presentation, presentation_url, value, matched, matches, created_at
	) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5),
		s.placeholder(6), s.placeholder(7), s.placeholder(8), s.placeholder(9), s.placeholder(10),
		s.placeholder(11), s.placeholder(12))

	_, err = s.db.ExecContext(ctx, query,
		m.ScanSpec.ScanTag.Scanner.PK, m.ScanSpec.ScanTag.Scanner.Name, m.ScanSpec.ScanTag.Time,
		m.ScanSpec.ScanTag.User, m.ScanSpec.ScanTag.Organisation,
		handleType(m.Handle), m.Handle.Presentation(), m.Handle.PresentationURL(),
		nullableJSON(m.Value), m.Matched, string(matchesJSON), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlsink: inserting match: %w", err)
	}
	return nil
}

// Metadata records a handle's metadata report.
func (s *Sink) Metadata(ctx context.Context, m messages.MetadataMessage) error {
	query := fmt.Sprintf(`INSERT INTO metadata (
		scanner_pk, scanner_name, scan_time, scan_user, scan_organisation,
		crunch, owner, last_modified, mime, presentation_url, created_at
	) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5),
		s.placeholder(6), s.placeholder(7), s.placeholder(8), s.placeholder(9), s.placeholder(10),
		s.placeholder(11))

	_, err := s.db.ExecContext(ctx, query,
		m.ScanTag.Scanner.PK, m.ScanTag.Scanner.Name, m.ScanTag.Time, m.ScanTag.User, m.ScanTag.Organisation,
		m.Crunch, m.Owner, m.LastModified, m.Mime, m.PresentationURL, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlsink: inserting metadata: %w", err)
	}
	return nil
}

// Problem records a recoverable failure.
func (s *Sink) Problem(ctx context.Context, m messages.ProblemMessage) error {
	extraJSON, err := json.Marshal(m.Extra)
	if err != nil {
		return fmt.Errorf("sqlsink: marshalling problem extra: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO problems (
		scanner_pk, scanner_name, scan_time, scan_user, scan_organisation,
		where_, problem, extra, created_at
	) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5),
		s.placeholder(6), s.placeholder(7), s.placeholder(8), s.placeholder(9))

	_, err = s.db.ExecContext(ctx, query,
		m.ScanTag.Scanner.PK, m.ScanTag.Scanner.Name, m.ScanTag.Time, m.ScanTag.User, m.ScanTag.Organisation,
		m.Where, string(m.Problem), string(extraJSON), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlsink: inserting problem: %w", err)
	}
	return nil
}

// Status records a progress update.
func (s *Sink) Status(ctx context.Context, m messages.StatusMessage) error {
	query := fmt.Sprintf(`INSERT INTO status_updates (
		scanner_pk, scanner_name, scan_time, scan_user, scan_organisation,
		message, status_is_error, total_objects, new_sources, object_size, object_type, created_at
	) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5),
		s.placeholder(6), s.placeholder(7), s.placeholder(8), s.placeholder(9), s.placeholder(10),
		s.placeholder(11), s.placeholder(12))

	_, err := s.db.ExecContext(ctx, query,
		m.ScanTag.Scanner.PK, m.ScanTag.Scanner.Name, m.ScanTag.Time, m.ScanTag.User, m.ScanTag.Organisation,
		m.Message, m.StatusIsError, nullableInt(m.TotalObjects), nullableInt(m.NewSources),
		nullableInt64(m.ObjectSize), nullableString(m.ObjectType), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlsink: inserting status update: %w", err)
	}
	return nil
}

func handleType(h model.Handle) string {
	raw, err := h.ToJSON()
	if err != nil {
		return ""
	}
	var v struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v.Type
}

func nullableJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullableInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullableString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
