// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rundb records acquisition sessions in a MySQL database.
package rundb // import "github.com/go-lpc/tp3/rundb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-lpc/tp3/acq"
	"github.com/go-sql-driver/mysql"
)

var drvName = "mysql"

const timeout = 5 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id       CHAR(36) NOT NULL PRIMARY KEY,
	kind     VARCHAR(16) NOT NULL,
	addr     VARCHAR(255) NOT NULL,
	exposure DOUBLE NOT NULL,
	project  BOOLEAN NOT NULL,
	cumul    BOOLEAN NOT NULL,
	start    DATETIME(6) NOT NULL,
	stop     DATETIME(6) NULL,
	error    TEXT NULL
)`

// DB is a run log database.
type DB struct {
	db   *sql.DB
	name string
}

// Open opens a connection to the run log database described by dsn,
// a go-sql-driver/mysql data source name.
func Open(dsn string) (*DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("rundb: could not parse DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open(drvName, cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("rundb: could not open %q db: %w", cfg.DBName, err)
	}

	err = ping(db, cfg.DBName)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: cfg.DBName}, nil
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("rundb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

// Name returns the name of the database.
func (db *DB) Name() string { return db.name }

func (db *DB) Close() error {
	return db.db.Close()
}

// Init creates the sessions table if it does not exist.
func (db *DB) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := db.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("rundb: could not create sessions table: %w", err)
	}
	return nil
}

// Begin records the start of an acquisition session.
func (db *DB) Begin(ctx context.Context, sess acq.Session) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		`INSERT INTO sessions (id, kind, addr, exposure, project, cumul, start) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID.String(), sess.Kind.String(), sess.Addr, sess.Exposure,
		sess.Project, sess.Cumul, sess.Start.UTC(),
	)
	if err != nil {
		return fmt.Errorf("rundb: could not record start of session %v: %w", sess.ID, err)
	}
	return nil
}

// End records the end of an acquisition session.
func (db *DB) End(ctx context.Context, sess acq.Session) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var msg sql.NullString
	if sess.Err != nil {
		msg = sql.NullString{String: sess.Err.Error(), Valid: true}
	}

	_, err := db.db.ExecContext(
		ctx,
		`UPDATE sessions SET stop=?, error=? WHERE id=?`,
		sess.Stop.UTC(), msg, sess.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("rundb: could not record end of session %v: %w", sess.ID, err)
	}
	return nil
}

// Run is a recorded acquisition session.
type Run struct {
	ID       string
	Kind     string
	Addr     string
	Exposure float64
	Project  bool
	Cumul    bool
	Start    time.Time
	Stop     time.Time // zero while the session is running
	Err      string
}

// Runs returns the last n recorded sessions, most recent first.
func (db *DB) Runs(ctx context.Context, n int) ([]Run, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var runs []Run
	rows, err := db.db.QueryContext(
		ctx,
		`SELECT id, kind, addr, exposure, project, cumul, start, stop, error FROM sessions ORDER BY start DESC LIMIT ?`,
		n,
	)
	if err != nil {
		return runs, fmt.Errorf("rundb: could not query sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			run  Run
			stop sql.NullTime
			msg  sql.NullString
		)
		err = rows.Scan(
			&run.ID, &run.Kind, &run.Addr, &run.Exposure,
			&run.Project, &run.Cumul, &run.Start, &stop, &msg,
		)
		if err != nil {
			return runs, fmt.Errorf("rundb: could not scan session %d: %w", len(runs), err)
		}
		run.Stop = stop.Time
		run.Err = msg.String
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return runs, fmt.Errorf("rundb: could not scan db for sessions: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return runs, fmt.Errorf("rundb: context error while retrieving sessions: %w", err)
	}

	return runs, nil
}

var _ acq.RunLog = (*DB)(nil)
