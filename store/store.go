// Package store is the durable state of the client: event bodies,
// per-event relay provenance, cached profile metadata with verification
// timestamps, and known relay endpoints with their information documents.
//
// Everything here is best-effort from the pipeline's point of view: a
// failed read means "unknown", a failed write is logged and dropped by the
// caller — except InsertTextNote, whose failure propagates because dedup
// and re-fetch suppression depend on it.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fiatjaf.com/nostr"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// schemaVersion is the latest schema; bump when adding migrations.
const schemaVersion = 1

// NIP05VerifyWindow is how long a successful NIP-05 check is trusted
// before it must be redone.
const NIP05VerifyWindow = 12 * time.Hour

// RelayRefreshAge is how old a relay's cached information document may get
// before it is refreshed.
const RelayRefreshAge = time.Hour

type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

type Option func(*Store)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// Open opens (creating if needed) the sqlite database at path and runs
// migrations. WAL and a busy timeout are set through the DSN so they apply
// to every pooled connection.
func Open(path string, opts ...Option) (*Store, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("failed to read user_version: %w", err)
	}

	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS textnotes (
		  id    TEXT PRIMARY KEY,
		  event TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS textnotes_relays (
		  textnote TEXT NOT NULL,
		  relay    TEXT NOT NULL,
		  PRIMARY KEY (textnote, relay)
		);
		CREATE TABLE IF NOT EXISTS metadata (
		  author         TEXT PRIMARY KEY,
		  event          TEXT NOT NULL,
		  nip05_verified INTEGER
		);
		CREATE TABLE IF NOT EXISTS relays (
		  url         TEXT PRIMARY KEY,
		  information TEXT,
		  updated     INTEGER NOT NULL DEFAULT 0
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("failed to apply schema v1: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion)); err != nil {
			return fmt.Errorf("failed to bump user_version: %w", err)
		}
	}

	return nil
}

// InsertTextNote persists the event body and records the (event, relay)
// provenance edge. Both inserts are idempotent: re-inserting the same id
// or the same edge is not an error. An empty relay means the origin is
// unknown (e.g. a locally re-fetched event) and no edge is recorded. This
// is the one write whose failure aborts processing of the event upstream.
func (s *Store) InsertTextNote(ctx context.Context, relay string, evt nostr.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to serialize event %s: %w", evt.ID, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO textnotes (id, event) VALUES (?, ?)`,
		evt.ID.Hex(), string(body),
	); err != nil {
		return fmt.Errorf("failed to insert event %s: %w", evt.ID, err)
	}

	if relay == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO textnotes_relays (textnote, relay) VALUES (?, ?)`,
		evt.ID.Hex(), relay,
	); err != nil {
		return fmt.Errorf("failed to record provenance of %s: %w", evt.ID, err)
	}

	return nil
}

// TextNote returns a stored event by id, nil when absent or undecodable.
func (s *Store) TextNote(ctx context.Context, id nostr.ID) (*nostr.Event, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT event FROM textnotes WHERE id = ?`, id.Hex(),
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query event %s: %w", id, err)
	}

	var evt nostr.Event
	if err := evt.UnmarshalJSON([]byte(body)); err != nil {
		return nil, fmt.Errorf("stored event %s is undecodable: %w", id, err)
	}
	return &evt, nil
}

// RelaysFor returns every relay known to carry the given event id.
func (s *Store) RelaysFor(ctx context.Context, id nostr.ID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT relay FROM textnotes_relays WHERE textnote = ?`, id.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to query relays for %s: %w", id, err)
	}
	defer rows.Close()

	var relays []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		relays = append(relays, url)
	}
	return relays, rows.Err()
}

// PersonaFor returns the latest stored metadata event for pk, or nil when
// none is stored yet, along with when its NIP-05 identifier was last
// verified (zero if never). Callers compare against NIP05VerifyWindow;
// keeping the raw timestamp lets them bound cache lifetimes by the
// remaining trust, not just a yes/no snapshot.
func (s *Store) PersonaFor(ctx context.Context, pk nostr.PubKey) (*nostr.Event, time.Time, error) {
	var body string
	var verified sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT event, nip05_verified FROM metadata WHERE author = ?`, pk.Hex(),
	).Scan(&body, &verified)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to query metadata for %s: %w", pk, err)
	}

	var evt nostr.Event
	if err := evt.UnmarshalJSON([]byte(body)); err != nil {
		return nil, time.Time{}, fmt.Errorf("stored metadata for %s is undecodable: %w", pk, err)
	}

	var verifiedAt time.Time
	if verified.Valid {
		verifiedAt = time.Unix(verified.Int64, 0)
	}
	return &evt, verifiedAt, nil
}

// UpsertMetadata stores a kind-0 event, replacing any previous one for the
// same author. The verification timestamp survives the replacement; it
// runs on its own schedule.
func (s *Store) UpsertMetadata(ctx context.Context, evt nostr.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to serialize metadata %s: %w", evt.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO metadata (author, event) VALUES (?, ?)
		ON CONFLICT (author) DO UPDATE SET event = excluded.event`,
		evt.PubKey.Hex(), string(body))
	if err != nil {
		return fmt.Errorf("failed to upsert metadata for %s: %w", evt.PubKey, err)
	}
	return nil
}

// MarkNIP05Verified records a successful verification at the given time.
func (s *Store) MarkNIP05Verified(ctx context.Context, pk nostr.PubKey, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE metadata SET nip05_verified = ? WHERE author = ?`,
		now.Unix(), pk.Hex())
	if err != nil {
		return fmt.Errorf("failed to mark %s verified: %w", pk, err)
	}
	return nil
}

// OfferRelay records a relay endpoint if it isn't known yet. An existing
// row, including its cached information document, is never touched.
func (s *Store) OfferRelay(ctx context.Context, url string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO relays (url) VALUES (?)`, nostr.NormalizeURL(url))
	if err != nil {
		return fmt.Errorf("failed to offer relay %s: %w", url, err)
	}
	return nil
}

// RelaysNeedingRefresh returns the relays with no information document or
// with one older than RelayRefreshAge. The caller unions these with the
// relays the live connection layer reports, so freshly-connected relays
// get documents too.
func (s *Store) RelaysNeedingRefresh(ctx context.Context, now time.Time) ([]string, error) {
	cutoff := now.Add(-RelayRefreshAge).Unix()
	rows, err := s.db.QueryContext(ctx,
		`SELECT url FROM relays WHERE information IS NULL OR updated < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale relays: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, rows.Err()
}

// StoreRelayInformation upserts a relay's information document.
func (s *Store) StoreRelayInformation(ctx context.Context, url string, doc []byte, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relays (url, information, updated) VALUES (?, ?, ?)
		ON CONFLICT (url) DO UPDATE SET information = excluded.information, updated = excluded.updated`,
		nostr.NormalizeURL(url), string(doc), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to store information for %s: %w", url, err)
	}
	return nil
}

// RelayInformation returns the cached document for a relay, nil if none.
func (s *Store) RelayInformation(ctx context.Context, url string) ([]byte, error) {
	var doc sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT information FROM relays WHERE url = ?`, nostr.NormalizeURL(url),
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query information for %s: %w", url, err)
	}
	if !doc.Valid {
		return nil, nil
	}
	return []byte(doc.String), nil
}
