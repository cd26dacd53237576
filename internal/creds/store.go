// Copyright 2026 AFPBridge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package creds

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/tursodatabase/go-libsql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"afpbridge/internal/util"
)

// CredentialModel represents the credentials table.
type CredentialModel struct {
	bun.BaseModel `bun:"table:credentials"`

	Server    string `bun:"server,pk"`
	Port      int    `bun:"port,pk"`
	Username  string `bun:"username,notnull"`
	Password  string `bun:"password,notnull"`
	UpdatedAt int64  `bun:"updated_at,notnull"` // Unix timestamp
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	server     TEXT NOT NULL,
	port       INTEGER NOT NULL,
	username   TEXT NOT NULL,
	password   TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (server, port)
)`

// Store is the persistent credential store, a small SQLite database in
// the user's config directory. The same file may be open from several
// CLI processes at once, so writes go through the shared busy-retry
// policy.
type Store struct {
	path  string
	db    *sql.DB
	bunDB *bun.DB
}

// execPragma runs a PRAGMA statement using Query (not Exec) because libsql
// returns rows for PRAGMA statements.
func execPragma(db *sql.DB, pragma string) error {
	rows, err := db.Query(pragma)
	if err != nil {
		return err
	}
	rows.Close()
	return nil
}

// applyPragmas sets essential PRAGMAs after opening a libsql connection.
// libsql ignores DSN-based _pragma=value parameters, so all PRAGMAs must
// be set explicitly after the connection is opened.
func applyPragmas(db *sql.DB) error {
	// Busy timeout first, so the WAL conversion below waits for locks
	// instead of failing with "database is locked".
	if err := execPragma(db, "PRAGMA busy_timeout = 5000"); err != nil {
		return fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if err := execPragma(db, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}
	if err := execPragma(db, "PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("failed to set synchronous=NORMAL: %w", err)
	}
	return nil
}

// OpenStore opens (creating if needed) the credential store at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create credential schema: %w", err)
	}
	// Credentials are stored in plain text, keep the file private.
	_ = os.Chmod(path, 0o600)
	return &Store{
		path:  path,
		db:    db,
		bunDB: bun.NewDB(db, sqlitedialect.New()),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the store's file path.
func (s *Store) Path() string {
	return s.path
}

// Lookup returns the saved credentials for server:port, if any. Reads hit
// the same transient lock errors as writes, so they share the busy-retry
// policy.
func (s *Store) Lookup(ctx context.Context, server string, port int) (Credentials, bool, error) {
	model, err := util.RetryWithResult(ctx, func() (CredentialModel, error) {
		var m CredentialModel
		err := s.bunDB.NewSelect().
			Model(&m).
			Where("server = ?", server).
			Where("port = ?", port).
			Scan(ctx)
		return m, err
	}, util.StoreRetryOptions(ctx)...)
	if errors.Is(err, sql.ErrNoRows) {
		return Credentials{}, false, nil
	}
	if err != nil {
		return Credentials{}, false, err
	}
	return Credentials{Username: model.Username, Password: model.Password}, true, nil
}

// Save upserts credentials for server:port. Retries on transient
// "database is locked" errors from concurrent CLI processes.
func (s *Store) Save(ctx context.Context, server string, port int, c Credentials) error {
	return util.Retry(ctx, func() error {
		_, err := s.bunDB.NewInsert().
			Model(&CredentialModel{
				Server:    server,
				Port:      port,
				Username:  c.Username,
				Password:  c.Password,
				UpdatedAt: time.Now().Unix(),
			}).
			On("CONFLICT (server, port) DO UPDATE").
			Set("username = EXCLUDED.username").
			Set("password = EXCLUDED.password").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		return err
	}, util.StoreRetryOptions(ctx)...)
}

// Delete removes any saved credentials for server:port.
func (s *Store) Delete(ctx context.Context, server string, port int) error {
	return util.Retry(ctx, func() error {
		_, err := s.bunDB.NewDelete().
			Model((*CredentialModel)(nil)).
			Where("server = ?", server).
			Where("port = ?", port).
			Exec(ctx)
		return err
	}, util.StoreRetryOptions(ctx)...)
}
