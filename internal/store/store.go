// Package store persists the logged-in account's token pair and its
// baby/camera roster across process restarts, so cmd/nanit-agent
// doesn't have to prompt for credentials (and an MFA code) every run.
package store

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	_ "modernc.org/sqlite"
)

// Store handles SQLite persistence for tokens and babies.
type Store struct {
	db *sql.DB
}

// TokenRecord is one persisted token pair for an account.
type TokenRecord struct {
	Email        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Baby is a persisted baby/camera roster entry.
type Baby struct {
	UID       string
	Name      string
	CameraUID string
}

// New opens (creating if absent) the SQLite database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates/upgrades the schema. Safe to call on every startup.
func (s *Store) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tokens (
			email TEXT PRIMARY KEY,
			access_token TEXT NOT NULL,
			refresh_token_ciphertext BLOB NOT NULL,
			refresh_token_nonce BLOB NOT NULL,
			expires_at DATETIME NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS babies (
			uid TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			camera_uid TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_babies_camera ON babies(camera_uid)`,
		// Added when local-IP caching was introduced; tolerated as a
		// duplicate-column no-op on databases that already have it.
		`ALTER TABLE babies ADD COLUMN last_local_ip TEXT`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("store: migration failed: %w", err)
		}
	}
	return nil
}

// deriveKey turns an arbitrary-length passphrase into a chacha20poly1305
// key. The passphrase is expected to come from NANIT_TOKEN_PASSPHRASE.
func deriveKey(passphrase []byte) [32]byte {
	return sha256.Sum256(passphrase)
}

func encryptRefreshToken(refreshToken string, passphrase []byte) (ciphertext, nonce []byte, err error) {
	key := deriveKey(passphrase)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, nil, fmt.Errorf("store: init cipher: %w", err)
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("store: generate nonce: %w", err)
	}
	ciphertext = aead.Seal(nil, nonce, []byte(refreshToken), nil)
	return ciphertext, nonce, nil
}

func decryptRefreshToken(ciphertext, nonce, passphrase []byte) (string, error) {
	key := deriveKey(passphrase)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return "", fmt.Errorf("store: init cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("store: decrypt refresh token (wrong passphrase?): %w", err)
	}
	return string(plaintext), nil
}

// SaveTokens upserts the token pair for email, encrypting the refresh
// token at rest with passphrase.
func (s *Store) SaveTokens(email, accessToken, refreshToken string, expiresAt time.Time, passphrase []byte) error {
	ciphertext, nonce, err := encryptRefreshToken(refreshToken, passphrase)
	if err != nil {
		return err
	}

	query := `INSERT INTO tokens (email, access_token, refresh_token_ciphertext, refresh_token_nonce, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(email) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token_ciphertext = excluded.refresh_token_ciphertext,
			refresh_token_nonce = excluded.refresh_token_nonce,
			expires_at = excluded.expires_at,
			updated_at = CURRENT_TIMESTAMP`

	if _, err := s.db.Exec(query, email, accessToken, ciphertext, nonce, expiresAt); err != nil {
		return fmt.Errorf("store: save tokens: %w", err)
	}
	return nil
}

// LoadTokens retrieves and decrypts the token pair for email. Returns
// (nil, nil) if nothing has been persisted yet.
func (s *Store) LoadTokens(email string, passphrase []byte) (*TokenRecord, error) {
	query := `SELECT access_token, refresh_token_ciphertext, refresh_token_nonce, expires_at
		FROM tokens WHERE email = ?`

	var accessToken string
	var ciphertext, nonce []byte
	var expiresAt time.Time
	err := s.db.QueryRow(query, email).Scan(&accessToken, &ciphertext, &nonce, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load tokens: %w", err)
	}

	refreshToken, err := decryptRefreshToken(ciphertext, nonce, passphrase)
	if err != nil {
		return nil, err
	}

	return &TokenRecord{
		Email:        email,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

// DeleteTokens removes any persisted token pair for email (e.g. after a
// refresh that fails with an unrecoverable AuthError).
func (s *Store) DeleteTokens(email string) error {
	if _, err := s.db.Exec("DELETE FROM tokens WHERE email = ?", email); err != nil {
		return fmt.Errorf("store: delete tokens: %w", err)
	}
	return nil
}

// SaveBabies upserts each baby into the cached baby/camera roster. Cached
// entries not in babies are kept, as is each entry's last_local_ip.
func (s *Store) SaveBabies(babies []Baby) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, b := range babies {
		query := `INSERT INTO babies (uid, name, camera_uid, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(uid) DO UPDATE SET
				name = excluded.name,
				camera_uid = excluded.camera_uid,
				updated_at = CURRENT_TIMESTAMP`
		if _, err := tx.Exec(query, b.UID, b.Name, b.CameraUID); err != nil {
			return fmt.Errorf("store: save baby %s: %w", b.UID, err)
		}
	}
	return tx.Commit()
}

// ListBabies returns the cached baby/camera roster.
func (s *Store) ListBabies() ([]Baby, error) {
	rows, err := s.db.Query("SELECT uid, name, camera_uid FROM babies ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("store: list babies: %w", err)
	}
	defer rows.Close()

	var babies []Baby
	for rows.Next() {
		var b Baby
		if err := rows.Scan(&b.UID, &b.Name, &b.CameraUID); err != nil {
			return nil, fmt.Errorf("store: scan baby: %w", err)
		}
		babies = append(babies, b)
	}
	return babies, nil
}

// SaveLastLocalIP records the most recently reachable LAN IP for a
// camera's baby, so a future run knows the LAN IP without it being passed
// in again.
func (s *Store) SaveLastLocalIP(babyUID, ip string) error {
	if _, err := s.db.Exec("UPDATE babies SET last_local_ip = ? WHERE uid = ?", ip, babyUID); err != nil {
		return fmt.Errorf("store: save last local ip: %w", err)
	}
	return nil
}

// LastLocalIP returns the last-known LAN IP for a baby, or "" if none.
func (s *Store) LastLocalIP(babyUID string) (string, error) {
	var ip sql.NullString
	err := s.db.QueryRow("SELECT last_local_ip FROM babies WHERE uid = ?", babyUID).Scan(&ip)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: load last local ip: %w", err)
	}
	return ip.String, nil
}
