// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakedb holds types to fake an in-memory DB.
//
// Importing fakedb registers a "fakedb" database/sql driver.
// Queries return the rows of the current Run, statements executed
// during a Run are recorded.
package fakedb // import "github.com/go-lpc/tp3/internal/fakedb"

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"
)

// Exec is a recorded statement execution.
type Exec struct {
	Query string
	Args  []driver.Value
}

var state struct {
	run sync.Mutex // serializes runs

	mu    sync.Mutex
	rows  Rows
	fail  error
	execs []Exec
}

// Run runs f with the driver returning rows to all queries, and returns
// the statements executed by f.
func Run(ctx context.Context, rows Rows, f func(ctx context.Context) error) ([]Exec, error) {
	return run(ctx, rows, nil, f)
}

// Fail runs f with the driver failing all queries and statements with err.
func Fail(ctx context.Context, err error, f func(ctx context.Context) error) error {
	_, e := run(ctx, Rows{}, err, f)
	return e
}

func run(ctx context.Context, rows Rows, fail error, f func(ctx context.Context) error) ([]Exec, error) {
	state.run.Lock()
	defer state.run.Unlock()

	state.mu.Lock()
	state.rows = rows
	state.fail = fail
	state.execs = nil
	state.mu.Unlock()

	err := f(ctx)

	state.mu.Lock()
	defer state.mu.Unlock()
	execs := state.execs
	state.rows = Rows{}
	state.fail = nil
	state.execs = nil
	return execs, err
}

func init() {
	sql.Register("fakedb", &Driver{})
}

type Driver struct{}

// Open returns a new connection to the database.
func (drv *Driver) Open(name string) (driver.Conn, error) {
	return &Conn{}, nil
}

type Conn struct{}

// Prepare returns a prepared statement, bound to this connection.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return &Stmt{query: query}, nil
}

func (c *Conn) Close() error {
	return nil
}

// Begin starts and returns a new transaction.
func (c *Conn) Begin() (driver.Tx, error) {
	panic("not implemented")
}

// Ping implements driver.Pinger.
func (c *Conn) Ping(ctx context.Context) error {
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.fail
}

type Stmt struct {
	query string
}

func (stmt *Stmt) Close() error {
	return nil
}

// NumInput returns -1: the driver does not check placeholders.
func (stmt *Stmt) NumInput() int {
	return -1
}

// Exec records the execution of the statement.
func (stmt *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.fail != nil {
		return nil, state.fail
	}
	state.execs = append(state.execs, Exec{
		Query: stmt.query,
		Args:  append([]driver.Value(nil), args...),
	})
	return driver.RowsAffected(1), nil
}

// Query returns the rows of the current run.
func (stmt *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.fail != nil {
		return nil, state.fail
	}
	rows := &Rows{
		Names:  state.rows.Names,
		Values: append([][]driver.Value(nil), state.rows.Values...),
	}
	return rows, nil
}

type Rows struct {
	Names  []string
	Values [][]driver.Value
}

// Columns returns the names of the columns.
func (rows *Rows) Columns() []string {
	return rows.Names
}

// Close closes the rows iterator.
func (rows *Rows) Close() error {
	return nil
}

// Next populates dest with the next row of data.
// Next returns io.EOF when there are no more rows.
func (rows *Rows) Next(dest []driver.Value) error {
	if len(rows.Values) == 0 {
		return io.EOF
	}
	copy(dest, rows.Values[0])
	rows.Values = rows.Values[1:]
	return nil
}

var (
	_ driver.Driver = (*Driver)(nil)
	_ driver.Conn   = (*Conn)(nil)
	_ driver.Pinger = (*Conn)(nil)
	_ driver.Stmt   = (*Stmt)(nil)
	_ driver.Rows   = (*Rows)(nil)
)
