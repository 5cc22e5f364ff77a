// Package patternstore implements kato.PatternStore: a per-tenant,
// content-addressable store of learned patterns backed by SQLite, with an
// inverted postings index and an in-memory bloom filter for fast candidate
// pruning (spec §4.3). Grounded on the teacher's pkg/core SQLite store
// (connection setup, pragma tuning, Close/snapshot shape), generalized from
// a single embeddings table to patterns/postings keyed by tenant.
package patternstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/kato-engine/kato"
	"github.com/kato-engine/kato/internal/encoding"

	_ "modernc.org/sqlite"
)

// Config configures a Store.
type Config struct {
	// Path is the SQLite database file path. ":memory:" is valid for tests.
	Path string
	// BloomFalsePositiveRate bounds the bloom filter's false-positive rate
	// (spec §4.3, "target false-positive rate ≤ 1%").
	BloomFalsePositiveRate float64
	Logger                 kato.Logger
}

// DefaultConfig returns sensible defaults for Config.
func DefaultConfig() Config {
	return Config{
		Path:                   "kato.db",
		BloomFalsePositiveRate: 0.01,
		Logger:                 kato.NopLogger(),
	}
}

// Store is a SQLite-backed, multi-tenant kato.PatternStore.
type Store struct {
	db     *sql.DB
	config Config
	logger kato.Logger

	mu     sync.RWMutex
	closed bool
	// blooms holds one bloom filter per tenant, rebuilt from the postings
	// table on Init and kept in sync on every Learn/DeleteTenant.
	blooms map[string]*bloom.BloomFilter
}

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("patternstore: %s: %w", op, err)
}

// New constructs a Store. Callers must call Init before use.
func New(config Config) *Store {
	if config.Path == "" {
		config.Path = DefaultConfig().Path
	}
	if config.BloomFalsePositiveRate <= 0 {
		config.BloomFalsePositiveRate = DefaultConfig().BloomFalsePositiveRate
	}
	if config.Logger == nil {
		config.Logger = kato.NopLogger()
	}
	return &Store{
		config: config,
		logger: config.Logger,
		blooms: make(map[string]*bloom.BloomFilter),
	}
}

// Init opens the database, creates tables if absent, and rebuilds the
// per-tenant bloom filters from the postings table.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("init", kato.ErrSessionClosed)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_cache_size=-2000", s.config.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return wrapError("init", fmt.Errorf("open database: %w", err))
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(2 * time.Hour)
	if s.config.Path == ":memory:" {
		// Each connection to ":memory:" is its own empty database, so the
		// pool is held to one long-lived connection.
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	}
	s.db = db

	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return wrapError("init", fmt.Errorf("enable foreign keys: %w", err))
	}

	if err := s.createTables(ctx); err != nil {
		return wrapError("init", err)
	}

	if err := s.rebuildBlooms(ctx); err != nil {
		return wrapError("init", err)
	}

	s.logger.Info("pattern store initialized", "path", s.config.Path)
	return nil
}

func (s *Store) createTables(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS patterns (
		node_id    TEXT NOT NULL,
		name       TEXT NOT NULL,
		events     TEXT NOT NULL,
		length     INTEGER NOT NULL,
		frequency  INTEGER NOT NULL DEFAULT 1,
		emotives   TEXT,
		metadata   TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (node_id, name)
	);

	CREATE TABLE IF NOT EXISTS postings (
		node_id      TEXT NOT NULL,
		symbol       TEXT NOT NULL,
		pattern_name TEXT NOT NULL,
		PRIMARY KEY (node_id, symbol, pattern_name)
	);

	CREATE INDEX IF NOT EXISTS idx_postings_node_symbol ON postings(node_id, symbol);
	CREATE INDEX IF NOT EXISTS idx_patterns_node ON patterns(node_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// rebuildBlooms replays the postings table into an in-memory bloom filter
// per tenant. Called once on Init; afterwards filters are maintained
// incrementally by Learn/DeleteTenant.
func (s *Store) rebuildBlooms(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "SELECT node_id, COUNT(*) FROM patterns GROUP BY node_id")
	if err != nil {
		return fmt.Errorf("rebuild blooms: count patterns: %w", err)
	}
	counts := make(map[string]int)
	for rows.Next() {
		var nodeID string
		var n int
		if err := rows.Scan(&nodeID, &n); err != nil {
			rows.Close()
			return fmt.Errorf("rebuild blooms: scan count: %w", err)
		}
		counts[nodeID] = n
	}
	rows.Close()

	for nodeID, n := range counts {
		s.blooms[nodeID] = s.newBloomFilter(n)
	}

	symRows, err := s.db.QueryContext(ctx, "SELECT node_id, symbol FROM postings")
	if err != nil {
		return fmt.Errorf("rebuild blooms: scan postings: %w", err)
	}
	defer symRows.Close()
	for symRows.Next() {
		var nodeID, symbol string
		if err := symRows.Scan(&nodeID, &symbol); err != nil {
			return fmt.Errorf("rebuild blooms: scan posting row: %w", err)
		}
		s.filterFor(nodeID).AddString(symbol)
	}
	return symRows.Err()
}

// newBloomFilter sizes a filter for n expected items at the configured
// false-positive rate. A floor avoids a degenerate zero-sized filter for an
// empty tenant.
func (s *Store) newBloomFilter(n int) *bloom.BloomFilter {
	if n < 1024 {
		n = 1024
	}
	return bloom.NewWithEstimates(uint(n), s.config.BloomFalsePositiveRate)
}

// filterFor returns nodeID's bloom filter, creating an empty one if absent.
// Callers must hold s.mu.
func (s *Store) filterFor(nodeID string) *bloom.BloomFilter {
	f, ok := s.blooms[nodeID]
	if !ok {
		f = s.newBloomFilter(1024)
		s.blooms[nodeID] = f
	}
	return f
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get implements kato.PatternStore.
func (s *Store) Get(ctx context.Context, nodeID, name string) (*kato.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapError("get", kato.ErrSessionClosed)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT events, length, frequency, emotives, metadata FROM patterns WHERE node_id = ? AND name = ?`,
		nodeID, name)

	var eventsJSON, emotivesJSON, metadataJSON sql.NullString
	var length int
	var frequency int64
	if err := row.Scan(&eventsJSON, &length, &frequency, &emotivesJSON, &metadataJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, wrapError("get", kato.ErrNotFound)
		}
		return nil, wrapError("get", err)
	}

	events, err := decodeEvents(eventsJSON.String)
	if err != nil {
		return nil, wrapError("get", err)
	}
	emotives, err := decodeEmotives(emotivesJSON.String)
	if err != nil {
		return nil, wrapError("get", err)
	}
	metadata, err := encoding.DecodeMetadata(metadataJSON.String)
	if err != nil {
		return nil, wrapError("get", err)
	}

	return &kato.Pattern{
		Name:      name,
		Events:    events,
		Length:    length,
		Frequency: frequency,
		Emotives:  emotives,
		Metadata:  metadata,
	}, nil
}

// Learn implements kato.PatternStore. It canonicalizes events (sorted
// within each event, spec §4.3), computes the content-addressed name, and
// either inserts a fresh pattern at frequency 1 or increments the frequency
// and rolls emotives/metadata of an existing one.
func (s *Store) Learn(ctx context.Context, nodeID string, events []kato.Event, emotives map[string][]float64, metadata map[string]string, persistence int) (string, error) {
	if len(events) == 0 {
		return "", wrapError("learn", kato.ErrInvalidInput)
	}
	if persistence < 1 {
		persistence = 1
	}

	canon := make([]kato.Event, len(events))
	for i, ev := range events {
		canon[i] = ev.Canonicalize(true)
	}
	name := kato.PatternName(canon)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", wrapError("learn", kato.ErrSessionClosed)
	}

	newestEmotives := flattenLatestEmotives(emotives)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", wrapError("learn", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT emotives, metadata, frequency FROM patterns WHERE node_id = ? AND name = ?`, nodeID, name)
	var existingEmotivesJSON, existingMetadataJSON sql.NullString
	var existingFrequency int64
	err = row.Scan(&existingEmotivesJSON, &existingMetadataJSON, &existingFrequency)

	switch {
	case err == sql.ErrNoRows:
		eventsJSON, encErr := encodeEvents(canon)
		if encErr != nil {
			return "", wrapError("learn", encErr)
		}
		emotivesJSON, encErr := encodeEmotives(rollEmotives(nil, newestEmotives, persistence))
		if encErr != nil {
			return "", wrapError("learn", encErr)
		}
		metadataJSON, encErr := encoding.EncodeMetadata(metadata)
		if encErr != nil {
			return "", wrapError("learn", encErr)
		}
		if _, execErr := tx.ExecContext(ctx,
			`INSERT INTO patterns (node_id, name, events, length, frequency, emotives, metadata, updated_at)
			 VALUES (?, ?, ?, ?, 1, ?, ?, CURRENT_TIMESTAMP)`,
			nodeID, name, eventsJSON, len(canon), emotivesJSON, metadataJSON); execErr != nil {
			return "", wrapError("learn", execErr)
		}
		if execErr := s.insertPostings(ctx, tx, nodeID, name, canon); execErr != nil {
			return "", wrapError("learn", execErr)
		}
		if commitErr := tx.Commit(); commitErr != nil {
			return "", wrapError("learn", commitErr)
		}
		for sym := range symbolSet(canon) {
			s.filterFor(nodeID).AddString(sym)
		}
		return name, nil

	case err != nil:
		return "", wrapError("learn", err)

	default:
		existingEmotives, decErr := decodeEmotives(existingEmotivesJSON.String)
		if decErr != nil {
			return "", wrapError("learn", decErr)
		}
		existingMetadata, decErr := encoding.DecodeMetadata(existingMetadataJSON.String)
		if decErr != nil {
			return "", wrapError("learn", decErr)
		}

		merged := rollEmotives(existingEmotives, newestEmotives, persistence)
		emotivesJSON, encErr := encodeEmotives(merged)
		if encErr != nil {
			return "", wrapError("learn", encErr)
		}
		if existingMetadata == nil {
			existingMetadata = map[string]string{}
		}
		for k, v := range metadata {
			existingMetadata[k] = v
		}
		metadataJSON, encErr := encoding.EncodeMetadata(existingMetadata)
		if encErr != nil {
			return "", wrapError("learn", encErr)
		}

		if _, execErr := tx.ExecContext(ctx,
			`UPDATE patterns SET frequency = frequency + 1, emotives = ?, metadata = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE node_id = ? AND name = ?`,
			emotivesJSON, metadataJSON, nodeID, name); execErr != nil {
			return "", wrapError("learn", execErr)
		}
		if commitErr := tx.Commit(); commitErr != nil {
			return "", wrapError("learn", commitErr)
		}
		return name, nil
	}
}

func (s *Store) insertPostings(ctx context.Context, tx *sql.Tx, nodeID, name string, events []kato.Event) error {
	for sym := range symbolSet(events) {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO postings (node_id, symbol, pattern_name) VALUES (?, ?, ?)`,
			nodeID, sym, name); err != nil {
			return err
		}
	}
	return nil
}

func symbolSet(events []kato.Event) map[kato.Symbol]struct{} {
	out := make(map[kato.Symbol]struct{})
	for _, ev := range events {
		for _, sym := range ev {
			out[sym] = struct{}{}
		}
	}
	return out
}

// flattenLatestEmotives reduces the accumulated-session emotive lists (one
// list per name, collected across a session's STM) to a single latest value
// per name, which is what gets appended to the pattern's rolling window.
func flattenLatestEmotives(emotives map[string][]float64) map[string]float64 {
	out := make(map[string]float64, len(emotives))
	for name, values := range emotives {
		if len(values) == 0 {
			continue
		}
		out[name] = values[len(values)-1]
	}
	return out
}

// rollEmotives appends newest[name] to existing[name] for every name
// present in newest, truncating each list from the front to length
// persistence. Names absent from newest are left untouched (spec §4.3,
// "missing emotive names on re-learn are not touched").
func rollEmotives(existing map[string][]float64, newest map[string]float64, persistence int) map[string][]float64 {
	out := make(map[string][]float64, len(existing)+len(newest))
	for k, v := range existing {
		cp := make([]float64, len(v))
		copy(cp, v)
		out[k] = cp
	}
	for name, val := range newest {
		window := append(out[name], val)
		if len(window) > persistence {
			window = window[len(window)-persistence:]
		}
		out[name] = window
	}
	return out
}

// CandidatesBySymbols implements kato.PatternStore.
func (s *Store) CandidatesBySymbols(ctx context.Context, nodeID string, symbols map[kato.Symbol]struct{}) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapError("candidates_by_symbols", kato.ErrSessionClosed)
	}
	if len(symbols) == 0 {
		return []string{}, nil
	}

	filter, ok := s.blooms[nodeID]
	if !ok {
		return []string{}, nil
	}

	present := make([]string, 0, len(symbols))
	for sym := range symbols {
		if filter.TestString(sym) {
			present = append(present, sym)
		}
	}
	if len(present) == 0 {
		return []string{}, nil
	}

	placeholders := make([]string, len(present))
	args := make([]interface{}, 0, len(present)+1)
	args = append(args, nodeID)
	for i, sym := range present {
		placeholders[i] = "?"
		args = append(args, sym)
	}
	query := fmt.Sprintf(`SELECT DISTINCT pattern_name FROM postings WHERE node_id = ? AND symbol IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError("candidates_by_symbols", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapError("candidates_by_symbols", err)
		}
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("candidates_by_symbols", err)
	}

	sort.Strings(names)
	return names, nil
}

// SymbolDocFrequency implements kato.PatternStore.
func (s *Store) SymbolDocFrequency(ctx context.Context, nodeID string, symbols []kato.Symbol) (map[kato.Symbol]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, wrapError("symbol_doc_frequency", kato.ErrSessionClosed)
	}

	out := make(map[kato.Symbol]int, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	for _, sym := range symbols {
		out[sym] = 0
	}

	placeholders := make([]string, len(symbols))
	args := make([]interface{}, 0, len(symbols)+1)
	args = append(args, nodeID)
	for i, sym := range symbols {
		placeholders[i] = "?"
		args = append(args, sym)
	}
	query := fmt.Sprintf(
		`SELECT symbol, COUNT(DISTINCT pattern_name) FROM postings WHERE node_id = ? AND symbol IN (%s) GROUP BY symbol`,
		strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError("symbol_doc_frequency", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sym string
		var count int
		if err := rows.Scan(&sym, &count); err != nil {
			return nil, wrapError("symbol_doc_frequency", err)
		}
		out[sym] = count
	}
	return out, rows.Err()
}

// PatternCount implements kato.PatternStore.
func (s *Store) PatternCount(ctx context.Context, nodeID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, wrapError("pattern_count", kato.ErrSessionClosed)
	}

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patterns WHERE node_id = ?`, nodeID).Scan(&count)
	if err != nil {
		return 0, wrapError("pattern_count", err)
	}
	return count, nil
}

// DeleteTenant implements kato.PatternStore.
func (s *Store) DeleteTenant(ctx context.Context, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return wrapError("delete_tenant", kato.ErrSessionClosed)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError("delete_tenant", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM patterns WHERE node_id = ?`, nodeID); err != nil {
		return wrapError("delete_tenant", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM postings WHERE node_id = ?`, nodeID); err != nil {
		return wrapError("delete_tenant", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapError("delete_tenant", err)
	}

	delete(s.blooms, nodeID)
	return nil
}
