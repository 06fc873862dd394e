package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/companionkit/memoryengine/internal/model"
)

// Options tunes a SQLiteStore. Zero values get defaults.
type Options struct {
	// Dims is the deployment's fixed embedding dimensionality.
	Dims int
	// DenseWeight and SparseWeight blend the two search signals.
	DenseWeight  float64
	SparseWeight float64
	// ReadRetries bounds retries on transient sqlite read errors.
	// Writes are never blindly retried.
	ReadRetries int
	// ShortTermTTL is how long short_term chunks survive.
	ShortTermTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.DenseWeight == 0 && o.SparseWeight == 0 {
		o.DenseWeight, o.SparseWeight = 0.7, 0.3
	}
	if o.ReadRetries <= 0 {
		o.ReadRetries = 3
	}
	if o.ShortTermTTL == 0 {
		o.ShortTermTTL = 30 * 24 * time.Hour
	}
	return o
}

// SQLiteStore implements Store using SQLite plus an in-memory chromem
// vector index rehydrated from the database on open.
type SQLiteStore struct {
	db   *sql.DB
	opts Options

	dense *denseIndex

	// Per-namespace write locks. Cross-namespace writes run in parallel.
	lockMu  sync.Mutex
	nsLocks map[string]*sync.Mutex

	purgeWG sync.WaitGroup
}

// NewSQLiteStore opens or creates a SQLite database at the given path
// and rebuilds the dense index from the stored embeddings.
func NewSQLiteStore(dbPath string, opts Options) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		opts:    opts.withDefaults(),
		dense:   newDenseIndex(),
		nsLocks: make(map[string]*sync.Mutex),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.rehydrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("rehydrate dense index: %w", err)
	}

	return s, nil
}

func newID() string {
	return ulid.Make().String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id              TEXT PRIMARY KEY,
		owner_id        TEXT NOT NULL,
		companion_id    TEXT NOT NULL,
		content         TEXT NOT NULL,
		content_hash    TEXT NOT NULL,
		embedding       TEXT NOT NULL,
		memory_type     TEXT NOT NULL,
		source_type     TEXT NOT NULL,
		retention_class TEXT NOT NULL,
		privacy_level   TEXT NOT NULL,
		keywords        TEXT,
		seq             INTEGER NOT NULL DEFAULT 0,
		source_ref      TEXT,
		idempotency_token TEXT,
		created_at      TEXT NOT NULL,
		tombstoned_at   TEXT,
		pinned_at       TEXT
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_chunks_idem
		ON chunks(owner_id, companion_id, idempotency_token) WHERE idempotency_token IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_chunks_ns ON chunks(owner_id, companion_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_hash ON chunks(owner_id, companion_id, content_hash);
	CREATE INDEX IF NOT EXISTS idx_chunks_created ON chunks(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_chunks_retention ON chunks(retention_class, created_at);
	CREATE INDEX IF NOT EXISTS idx_chunks_tombstoned ON chunks(tombstoned_at);

	CREATE TABLE IF NOT EXISTS profiles (
		owner_id          TEXT NOT NULL,
		companion_id      TEXT NOT NULL,
		stage             TEXT NOT NULL,
		traits            TEXT NOT NULL,
		style             TEXT NOT NULL,
		emotional         TEXT NOT NULL,
		persona_prompt    TEXT NOT NULL DEFAULT '',
		adapter_reference TEXT NOT NULL DEFAULT '',
		level             TEXT NOT NULL,
		confidence        REAL NOT NULL DEFAULT 0,
		memory_count      INTEGER NOT NULL DEFAULT 0,
		interaction_count INTEGER NOT NULL DEFAULT 0,
		vocab_version     INTEGER NOT NULL,
		updated_at        TEXT NOT NULL,
		PRIMARY KEY (owner_id, companion_id)
	);

	CREATE TABLE IF NOT EXISTS interactions (
		owner_id     TEXT NOT NULL,
		companion_id TEXT NOT NULL,
		user_message TEXT NOT NULL,
		occurred_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interactions_ns
		ON interactions(owner_id, companion_id, occurred_at);

	CREATE TABLE IF NOT EXISTS upload_sessions (
		session_id   TEXT PRIMARY KEY,
		owner_id     TEXT NOT NULL,
		companion_id TEXT NOT NULL,
		status       TEXT NOT NULL,
		files        TEXT NOT NULL,
		total_chunks INTEGER NOT NULL DEFAULT 0,
		started_at   TEXT NOT NULL,
		completed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_ns ON upload_sessions(owner_id, companion_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_completed ON upload_sessions(completed_at);

	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		content,
		content=chunks,
		content_rowid=rowid
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// FTS5 triggers for automatic sync
	s.db.Exec(`CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
		INSERT INTO chunks_fts(rowid, content) VALUES (new.rowid, new.content);
	END`)
	s.db.Exec(`CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES('delete', old.rowid, old.content);
	END`)
	s.db.Exec(`CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
		INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES('delete', old.rowid, old.content);
		INSERT INTO chunks_fts(rowid, content) VALUES (new.rowid, new.content);
	END`)

	return nil
}

// rehydrate reloads every live chunk's embedding into the dense index.
func (s *SQLiteStore) rehydrate(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks WHERE tombstoned_at IS NULL`)
	if err != nil {
		return err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return err
		}
		if err := s.dense.add(ctx, c); err != nil {
			return err
		}
		n++
	}
	if n > 0 {
		log.Debug().Int("chunks", n).Msg("dense index rehydrated")
	}
	return rows.Err()
}

// nsLock returns the write mutex for a namespace, creating it on first
// use.
func (s *SQLiteStore) nsLock(ns model.Namespace) *sync.Mutex {
	key := ns.Key()
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.nsLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.nsLocks[key] = l
	}
	return l
}

// Write stores a chunk. Duplicate idempotency tokens and duplicate
// content hashes within the namespace both resolve to the previously
// stored chunk.
func (s *SQLiteStore) Write(ctx context.Context, p WriteParams) (*model.MemoryChunk, error) {
	c := p.Chunk
	if err := c.Validate(s.opts.Dims); err != nil {
		return nil, err
	}

	lock := s.nsLock(c.Namespace)
	lock.Lock()
	defer lock.Unlock()

	if p.IdempotencyToken != "" {
		existing, err := s.chunkByToken(ctx, c.Namespace, p.IdempotencyToken)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	if c.ContentHash == "" {
		c.ContentHash = model.HashContent(c.Content)
	}
	existing, err := s.chunkByHash(ctx, c.Namespace, c.ContentHash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if c.ID == "" {
		c.ID = newID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	embJSON, err := json.Marshal(c.Embedding)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding: %w", err)
	}
	var keywordsJSON *string
	if len(c.Keywords) > 0 {
		b, _ := json.Marshal(c.Keywords)
		str := string(b)
		keywordsJSON = &str
	}
	var token *string
	if p.IdempotencyToken != "" {
		token = &p.IdempotencyToken
	}
	var sourceRef *string
	if c.SourceRef != "" {
		sourceRef = &c.SourceRef
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chunks (id, owner_id, companion_id, content, content_hash, embedding,
			memory_type, source_type, retention_class, privacy_level,
			keywords, seq, source_ref, idempotency_token, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Namespace.OwnerID, c.Namespace.CompanionID, c.Content, c.ContentHash, string(embJSON),
		string(c.MemoryType), string(c.SourceType), string(c.RetentionClass), string(c.PrivacyLevel),
		keywordsJSON, c.Sequence, sourceRef, token, c.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		// A concurrent retry may have landed the same token first.
		if p.IdempotencyToken != "" && strings.Contains(err.Error(), "UNIQUE") {
			if existing, lookupErr := s.chunkByToken(ctx, c.Namespace, p.IdempotencyToken); lookupErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("insert chunk: %w", err)
	}

	if err := s.dense.add(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Get retrieves one chunk by id. The namespace must match; a chunk that
// exists under a different namespace is reported as not found.
func (s *SQLiteStore) Get(ctx context.Context, ns model.Namespace, id string) (*model.MemoryChunk, error) {
	if ns.IsZero() {
		return nil, &model.ValidationError{Field: "namespace", Reason: "owner_id and companion_id are required"}
	}
	var c *model.MemoryChunk
	err := s.withReadRetry(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT `+chunkColumns+`
			FROM chunks
			WHERE id = ? AND owner_id = ? AND companion_id = ? AND tombstoned_at IS NULL`,
			id, ns.OwnerID, ns.CompanionID)
		got, err := scanChunk(row)
		if err == sql.ErrNoRows {
			return model.ErrNotFound
		}
		if err != nil {
			return err
		}
		c = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteNamespace flips every live chunk in the namespace to tombstoned
// in a single statement, drops the dense collection and the profile, and
// purges the rows in the background. A pinned namespace cannot be
// deleted until the export completes.
func (s *SQLiteStore) DeleteNamespace(ctx context.Context, ns model.Namespace) (int, error) {
	if ns.IsZero() {
		return 0, &model.ValidationError{Field: "namespace", Reason: "owner_id and companion_id are required"}
	}

	lock := s.nsLock(ns)
	lock.Lock()
	defer lock.Unlock()

	var pinned int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chunks
		WHERE owner_id = ? AND companion_id = ? AND pinned_at IS NOT NULL AND tombstoned_at IS NULL`,
		ns.OwnerID, ns.CompanionID).Scan(&pinned)
	if err != nil {
		return 0, err
	}
	if pinned > 0 {
		return 0, fmt.Errorf("%w: %d chunks pinned in %s", model.ErrRetentionConflict, pinned, ns.Key())
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
		UPDATE chunks SET tombstoned_at = ?
		WHERE owner_id = ? AND companion_id = ? AND tombstoned_at IS NULL`,
		now, ns.OwnerID, ns.CompanionID)
	if err != nil {
		return 0, fmt.Errorf("tombstone namespace: %w", err)
	}
	count, _ := res.RowsAffected()

	s.dense.drop(ns)

	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM profiles WHERE owner_id = ? AND companion_id = ?`,
		ns.OwnerID, ns.CompanionID); err != nil {
		return 0, fmt.Errorf("delete profile: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM interactions WHERE owner_id = ? AND companion_id = ?`,
		ns.OwnerID, ns.CompanionID); err != nil {
		return 0, fmt.Errorf("delete interactions: %w", err)
	}

	s.purgeWG.Add(1)
	go func() {
		defer s.purgeWG.Done()
		if _, err := s.db.Exec(`
			DELETE FROM chunks
			WHERE owner_id = ? AND companion_id = ? AND tombstoned_at IS NOT NULL`,
			ns.OwnerID, ns.CompanionID); err != nil {
			log.Error().Err(err).Str("namespace", ns.Key()).Msg("tombstone purge failed")
		}
	}()

	log.Info().Str("namespace", ns.Key()).Int64("chunks", count).Msg("namespace deleted")
	return int(count), nil
}

// Close waits for background purges and closes the database.
func (s *SQLiteStore) Close() error {
	s.purgeWG.Wait()
	return s.db.Close()
}

// withReadRetry retries fn on transient sqlite contention. Reads only;
// writes go through once.
func (s *SQLiteStore) withReadRetry(ctx context.Context, fn func() error) error {
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(25*time.Millisecond), uint64(s.opts.ReadRetries-1)), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err != nil && isTransientSQLite(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, bo)
}

func isTransientSQLite(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

const chunkColumns = `id, owner_id, companion_id, content, content_hash, embedding,
	memory_type, source_type, retention_class, privacy_level,
	keywords, seq, source_ref, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*model.MemoryChunk, error) {
	var c model.MemoryChunk
	var embJSON, createdAt string
	var keywordsJSON, sourceRef sql.NullString
	var memType, srcType, retClass, privLevel string

	err := row.Scan(&c.ID, &c.Namespace.OwnerID, &c.Namespace.CompanionID,
		&c.Content, &c.ContentHash, &embJSON,
		&memType, &srcType, &retClass, &privLevel,
		&keywordsJSON, &c.Sequence, &sourceRef, &createdAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(embJSON), &c.Embedding); err != nil {
		return nil, fmt.Errorf("unmarshal embedding for %s: %w", c.ID, err)
	}
	if keywordsJSON.Valid {
		json.Unmarshal([]byte(keywordsJSON.String), &c.Keywords)
	}
	if sourceRef.Valid {
		c.SourceRef = sourceRef.String
	}
	c.MemoryType = model.MemoryType(memType)
	c.SourceType = model.SourceType(srcType)
	c.RetentionClass = model.RetentionClass(retClass)
	c.PrivacyLevel = model.PrivacyLevel(privLevel)
	c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", c.ID, err)
	}
	return &c, nil
}

// chunkByToken resolves an idempotency token within one namespace.
// Like Get, a token held by another namespace is treated as absent.
func (s *SQLiteStore) chunkByToken(ctx context.Context, ns model.Namespace, token string) (*model.MemoryChunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks
		WHERE owner_id = ? AND companion_id = ? AND idempotency_token = ? AND tombstoned_at IS NULL`,
		ns.OwnerID, ns.CompanionID, token)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) chunkByHash(ctx context.Context, ns model.Namespace, hash string) (*model.MemoryChunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks
		WHERE owner_id = ? AND companion_id = ? AND content_hash = ? AND tombstoned_at IS NULL`,
		ns.OwnerID, ns.CompanionID, hash)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}
