package delivery

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// DefaultStrandedTTL is how long a stranded message is kept
const DefaultStrandedTTL = 7 * 24 * time.Hour

var ErrNoPayload = errors.New("delivery: wrapper has no payload")

// StrandedMessage is a message that could not be delivered and waits for a
// later retry
type StrandedMessage struct {
	ID        int64
	Signature string
	Payload   []byte
	Priority  int
	Reason    string
	Timestamp int64 // When message was stranded
	ExpiresAt int64
	Attempts  int
}

// Wrapper turns the stored message back into a virgin wrapper
func (m *StrandedMessage) Wrapper(opts ...WrapperOption) *Wrapper {
	return NewWrapper(m.Payload, m.Priority, opts...)
}

// Store keeps stranded messages in sqlite
type Store struct {
	db     *sql.DB
	ttl    time.Duration
	logger *zap.Logger

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewStore opens (or creates) the store at dbPath. ttl 0 selects
// DefaultStrandedTTL.
func NewStore(dbPath string, ttl time.Duration, logger *zap.Logger) (*Store, error) {
	if ttl == 0 {
		ttl = DefaultStrandedTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open stranded store: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{
		db:     db,
		ttl:    ttl,
		logger: logger.Named("stranded"),
		stop:   make(chan struct{}),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.cleanupLoop(time.Hour)

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stranded_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		signature TEXT UNIQUE NOT NULL,
		payload BLOB NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_stranded_order ON stranded_messages(priority, timestamp);

	CREATE INDEX IF NOT EXISTS idx_stranded_expires ON stranded_messages(expires_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save stores the wrapper's payload. Saving the same payload again only
// refreshes its reason and expiry.
func (s *Store) Save(w *Wrapper, reason string) error {
	payload := w.Payload()
	if payload == nil {
		return ErrNoPayload
	}

	now := time.Now().Unix()
	expiresAt := now + int64(s.ttl.Seconds())

	query := `
		INSERT INTO stranded_messages (signature, payload, priority, reason, timestamp, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(signature) DO UPDATE SET reason = excluded.reason, expires_at = excluded.expires_at
	`
	if _, err := s.db.Exec(query, w.Signature(), payload, w.Priority(), reason, now, expiresAt); err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}

	s.logger.Info("📬 stranded message stored", zap.String("signature", w.Signature()[:8]), zap.String("reason", reason))
	return nil
}

// Load returns up to limit live messages, most urgent first
func (s *Store) Load(limit int) ([]*StrandedMessage, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, signature, payload, priority, reason, timestamp, expires_at, attempts
		FROM stranded_messages
		WHERE expires_at > ?
		ORDER BY priority ASC, timestamp ASC, id ASC
		LIMIT ?
	`

	rows, err := s.db.Query(query, time.Now().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load stranded messages: %w", err)
	}
	defer rows.Close()

	var messages []*StrandedMessage
	for rows.Next() {
		m := &StrandedMessage{}
		if err := rows.Scan(&m.ID, &m.Signature, &m.Payload, &m.Priority, &m.Reason, &m.Timestamp, &m.ExpiresAt, &m.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Delete removes a message (after it was requeued or delivered)
func (s *Store) Delete(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM stranded_messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// IncrementAttempts increments the retry counter
func (s *Store) IncrementAttempts(id int64) error {
	_, err := s.db.Exec(`UPDATE stranded_messages SET attempts = attempts + 1 WHERE id = ?`, id)
	return err
}

// Count returns the number of live stranded messages
func (s *Store) Count() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM stranded_messages WHERE expires_at > ?`, time.Now().Unix()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// Cleanup deletes expired messages and returns how many were removed
func (s *Store) Cleanup() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM stranded_messages WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired messages: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) cleanupLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			count, err := s.Cleanup()
			if err != nil {
				s.logger.Warn("⚠️ cleanup failed", zap.Error(err))
				continue
			}
			if count > 0 {
				s.logger.Info("🧹 cleaned up expired messages", zap.Int64("count", count))
			}
		}
	}
}

// Stats returns store counters
func (s *Store) Stats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	total, err := s.Count()
	if err != nil {
		return nil, err
	}
	stats["total_messages"] = total

	rows, err := s.db.Query(`
		SELECT reason, COUNT(*) FROM stranded_messages
		WHERE expires_at > ?
		GROUP BY reason
	`, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byReason := make(map[string]int)
	for rows.Next() {
		var reason string
		var count int
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, err
		}
		byReason[reason] = count
	}
	stats["by_reason"] = byReason

	return stats, rows.Err()
}

// Close stops the cleanup loop and closes the database
func (s *Store) Close() error {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
	return s.db.Close()
}
