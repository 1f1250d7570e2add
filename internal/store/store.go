// Package store persists setup sessions and submitted transactions in a local
// sqlite database. Writes are serialised across processes with a file lock.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ggonzalez94/lazytrader/internal/setup"
)

const lockTimeout = 5 * time.Second

// Session is the persisted setup flow of one wallet.
type Session struct {
	ID        string      `json:"id"`
	Wallet    string      `json:"wallet"`
	State     setup.State `json:"state"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

type TxKind string

const (
	TxApprove           TxKind = "approve"
	TxRevoke            TxKind = "revoke"
	TxEnableDelegation  TxKind = "enable-delegation"
	TxDisableDelegation TxKind = "disable-delegation"
)

// TxRecord is one permission transaction submitted from this machine.
type TxRecord struct {
	ID        string    `json:"id"`
	Kind      TxKind    `json:"kind"`
	Wallet    string    `json:"wallet"`
	Network   string    `json:"network"`
	ChainID   int64     `json:"chainId"`
	Hash      string    `json:"hash,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Store struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create state lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS setup_sessions (
			wallet TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			step TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transactions (
			tx_id TEXT PRIMARY KEY,
			wallet TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_transactions_wallet_updated ON transactions(wallet, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init state schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath), now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadSession returns the stored session for wallet. Missing sessions come
// back as a fresh idle state with found=false.
func (s *Store) LoadSession(wallet string) (Session, bool, error) {
	key := walletKey(wallet)
	if key == "" {
		return Session{}, false, fmt.Errorf("load session: missing wallet")
	}
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM setup_sessions WHERE wallet = ?", key).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{Wallet: wallet, State: setup.NewState(wallet)}, false, nil
		}
		return Session{}, false, fmt.Errorf("read session: %w", err)
	}
	var session Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return Session{}, false, fmt.Errorf("decode session payload: %w", err)
	}
	return session, true, nil
}

// SaveSession upserts by wallet, assigning an id and timestamps when unset.
func (s *Store) SaveSession(session Session) (Session, error) {
	key := walletKey(session.Wallet)
	if key == "" {
		return Session{}, fmt.Errorf("save session: missing wallet")
	}
	now := s.now()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	err := s.withLock(func() error {
		payload, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = s.db.Exec(`
			INSERT INTO setup_sessions (wallet, session_id, step, created_at, updated_at, payload)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(wallet) DO UPDATE SET
				session_id=excluded.session_id,
				step=excluded.step,
				updated_at=excluded.updated_at,
				payload=excluded.payload
		`, key, session.ID, string(session.State.Step), session.CreatedAt.Unix(), session.UpdatedAt.Unix(), payload)
		if err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	return session, nil
}

// SaveTx upserts a transaction record, assigning an id when unset.
func (s *Store) SaveTx(rec TxRecord) (TxRecord, error) {
	if walletKey(rec.Wallet) == "" {
		return TxRecord{}, fmt.Errorf("save transaction: missing wallet")
	}
	now := s.now()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	err := s.withLock(func() error {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal transaction: %w", err)
		}
		_, err = s.db.Exec(`
			INSERT INTO transactions (tx_id, wallet, kind, status, chain_id, created_at, updated_at, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(tx_id) DO UPDATE SET
				status=excluded.status,
				updated_at=excluded.updated_at,
				payload=excluded.payload
		`, rec.ID, walletKey(rec.Wallet), string(rec.Kind), rec.Status, rec.ChainID, rec.CreatedAt.Unix(), rec.UpdatedAt.Unix(), payload)
		if err != nil {
			return fmt.Errorf("save transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return TxRecord{}, err
	}
	return rec, nil
}

// ListTxs returns the newest records first. An empty wallet lists all.
func (s *Store) ListTxs(wallet string, limit int) ([]TxRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if key := walletKey(wallet); key == "" {
		rows, err = s.db.Query("SELECT payload FROM transactions ORDER BY updated_at DESC, created_at DESC LIMIT ?", limit)
	} else {
		rows, err = s.db.Query("SELECT payload FROM transactions WHERE wallet = ? ORDER BY updated_at DESC, created_at DESC LIMIT ?", key, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	records := make([]TxRecord, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		var rec TxRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("decode transaction row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return records, nil
}

func (s *Store) withLock(fn func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock state store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock state store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

func walletKey(wallet string) string {
	return strings.ToLower(strings.TrimSpace(wallet))
}
