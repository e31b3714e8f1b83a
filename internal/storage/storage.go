// Package storage provides SQLite-backed persistence for the seen-market
// ledger and subscriber preferences.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/opinionwatch/opinionwatch/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/opinionwatch/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "opinionwatch", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		// first_seen keeps the ledger insertion-ordered so entries older than
		// the longest observed market lifetime can be archived externally.
		`CREATE TABLE IF NOT EXISTS seen_markets (
			id         TEXT PRIMARY KEY,
			first_seen INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS subscribers (
			chat_id          INTEGER PRIMARY KEY,
			categories       TEXT NOT NULL DEFAULT '[]',
			keywords         TEXT NOT NULL DEFAULT '[]',
			min_liquidity    REAL NOT NULL DEFAULT 0,
			min_volume       REAL NOT NULL DEFAULT 0,
			notify_on_launch INTEGER NOT NULL DEFAULT 1,
			last_notified    TEXT NOT NULL DEFAULT '{}',
			updated_at       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_seen_markets_first_seen ON seen_markets(first_seen)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// HasSeen reports whether a market identifier is already in the ledger.
func (s *Storage) HasSeen(id string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM seen_markets WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query ledger: %w", err)
	}
	return true, nil
}

// SeenSet reports which of the given identifiers are already in the ledger,
// in a single query.
func (s *Storage) SeenSet(ids []string) (map[string]bool, error) {
	seen := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return seen, nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.Query(`SELECT id FROM seen_markets WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		seen[id] = true
	}
	return seen, rows.Err()
}

// MarkSeen records market identifiers in the ledger. The operation is
// idempotent and commits all identifiers in a single transaction.
func (s *Storage) MarkSeen(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UnixNano()
	for _, id := range ids {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO seen_markets (id, first_seen) VALUES (?, ?)`, id, now); err != nil {
			return fmt.Errorf("failed to insert ledger entry %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// SeenCount returns the number of identifiers in the ledger.
func (s *Storage) SeenCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM seen_markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count ledger: %w", err)
	}
	return n, nil
}

// GetSubscriber loads a subscriber's preferences, or (nil, nil) when the
// subscriber has never interacted with the service.
func (s *Storage) GetSubscriber(chatID int64) (*models.SubscriberPreferences, error) {
	row := s.db.QueryRow(`SELECT `+subscriberCols+` FROM subscribers WHERE chat_id = ?`, chatID)
	p, err := scanSubscriber(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscriber: %w", err)
	}
	return p, nil
}

// PutSubscriber inserts or replaces a subscriber record in its own
// transaction. This is the configuration path; dispatch-cycle mutations go
// through SaveCycle instead.
func (s *Storage) PutSubscriber(p *models.SubscriberPreferences) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := upsertSubscriber(tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

// AllSubscribers loads every subscriber's preferences.
func (s *Storage) AllSubscribers() ([]*models.SubscriberPreferences, error) {
	rows, err := s.db.Query(`SELECT ` + subscriberCols + ` FROM subscribers`)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscribers: %w", err)
	}
	defer rows.Close()

	var subs []*models.SubscriberPreferences
	for rows.Next() {
		p, err := scanSubscriber(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscriber: %w", err)
		}
		subs = append(subs, p)
	}
	if subs == nil {
		subs = []*models.SubscriberPreferences{}
	}
	return subs, rows.Err()
}

// SaveCycle merges each touched subscriber's last-notified entries into the
// current row, all in a single transaction: a crash persists either all of a
// cycle's updates or none of them. Only the notification history column is
// written, so a configuration change committed while the cycle was
// dispatching survives the merge.
func (s *Storage) SaveCycle(prefs []*models.SubscriberPreferences) error {
	if len(prefs) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, p := range prefs {
		if err := mergeLastNotified(tx, p); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func mergeLastNotified(tx *sql.Tx, p *models.SubscriberPreferences) error {
	var storedJSON string
	err := tx.QueryRow(`SELECT last_notified FROM subscribers WHERE chat_id = ?`, p.ChatID).Scan(&storedJSON)
	if err == sql.ErrNoRows {
		// Subscriber removed while the cycle was dispatching.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read notification history for %d: %w", p.ChatID, err)
	}

	merged := make(map[string]time.Time)
	if err := json.Unmarshal([]byte(storedJSON), &merged); err != nil {
		return fmt.Errorf("failed to unmarshal notification history for %d: %w", p.ChatID, err)
	}
	for id, at := range p.LastNotified {
		merged[id] = at
	}
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to marshal notification history for %d: %w", p.ChatID, err)
	}

	_, err = tx.Exec(`UPDATE subscribers SET last_notified = ?, updated_at = ? WHERE chat_id = ?`,
		string(mergedJSON), time.Now().UnixNano(), p.ChatID)
	if err != nil {
		return fmt.Errorf("failed to update notification history for %d: %w", p.ChatID, err)
	}
	return nil
}

func upsertSubscriber(tx *sql.Tx, p *models.SubscriberPreferences) error {
	categories := make([]string, 0, len(p.EnabledCategories))
	for id, on := range p.EnabledCategories {
		if on {
			categories = append(categories, id)
		}
	}
	sort.Strings(categories)

	categoriesJSON, err := json.Marshal(categories)
	if err != nil {
		return fmt.Errorf("failed to marshal categories: %w", err)
	}
	keywords := p.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	keywordsJSON, err := json.Marshal(keywords)
	if err != nil {
		return fmt.Errorf("failed to marshal keywords: %w", err)
	}
	lastNotifiedJSON, err := json.Marshal(p.LastNotified)
	if err != nil {
		return fmt.Errorf("failed to marshal last notified: %w", err)
	}

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO subscribers
			(chat_id, categories, keywords, min_liquidity, min_volume,
			 notify_on_launch, last_notified, updated_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		p.ChatID, string(categoriesJSON), string(keywordsJSON),
		p.MinLiquidity, p.MinVolume, boolToInt(p.NotifyOnLaunch),
		string(lastNotifiedJSON), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subscriber %d: %w", p.ChatID, err)
	}
	return nil
}

const subscriberCols = `chat_id, categories, keywords, min_liquidity, min_volume,
	notify_on_launch, last_notified`

func scanSubscriber(scan func(...any) error) (*models.SubscriberPreferences, error) {
	var p models.SubscriberPreferences
	var categoriesJSON, keywordsJSON, lastNotifiedJSON string
	var notify int

	err := scan(
		&p.ChatID, &categoriesJSON, &keywordsJSON,
		&p.MinLiquidity, &p.MinVolume, &notify, &lastNotifiedJSON,
	)
	if err != nil {
		return nil, err
	}

	var categories []string
	if err := json.Unmarshal([]byte(categoriesJSON), &categories); err != nil {
		return nil, fmt.Errorf("failed to unmarshal categories: %w", err)
	}
	p.EnabledCategories = make(map[string]bool, len(categories))
	for _, id := range categories {
		p.EnabledCategories[id] = true
	}

	if err := json.Unmarshal([]byte(keywordsJSON), &p.Keywords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal keywords: %w", err)
	}
	if err := json.Unmarshal([]byte(lastNotifiedJSON), &p.LastNotified); err != nil {
		return nil, fmt.Errorf("failed to unmarshal last notified: %w", err)
	}
	if p.LastNotified == nil {
		p.LastNotified = make(map[string]time.Time)
	}
	p.NotifyOnLaunch = notify != 0

	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
