// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rundb

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/tp3/acq"
	"github.com/go-lpc/tp3/internal/fakedb"
	"github.com/go-lpc/tp3/stream"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func init() {
	drvName = "fakedb"
}

const dsn = "tp3:s3cr3t@tcp(localhost:3306)/tp3"

func open(t *testing.T) *DB {
	t.Helper()
	db, err := Open(dsn)
	if err != nil {
		t.Fatalf("could not open rundb: %+v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen(t *testing.T) {
	db := open(t)
	if got, want := db.Name(), "tp3"; got != want {
		t.Fatalf("invalid db name: got=%q, want=%q", got, want)
	}

	_, err := Open("not a DSN")
	if err == nil {
		t.Fatalf("expected an error")
	}

	want := errors.New("connection refused")
	err = fakedb.Fail(context.Background(), want, func(ctx context.Context) error {
		_, err := Open(dsn)
		return err
	})
	if !errors.Is(err, want) {
		t.Fatalf("invalid error: got=%v, want=%v", err, want)
	}

	// failures do not outlive their run.
	db2, err := Open(dsn)
	if err != nil {
		t.Fatalf("could not reopen rundb after failed run: %+v", err)
	}
	_ = db2.Close()
}

func TestSession(t *testing.T) {
	db := open(t)

	var (
		beg  = time.Date(2020, 9, 1, 10, 0, 0, 0, time.UTC)
		end  = beg.Add(3 * time.Second)
		sess = acq.Session{
			ID:       uuid.MustParse("4e7a8a3c-3a43-4c8e-9b7e-3c5c0a1e1f00"),
			Kind:     stream.KindSpim,
			Addr:     "127.0.0.1:8090",
			Exposure: 0.5,
			Start:    beg,
		}
	)

	execs, err := fakedb.Run(context.Background(), fakedb.Rows{}, func(ctx context.Context) error {
		err := db.Init(ctx)
		if err != nil {
			return err
		}
		err = db.Begin(ctx, sess)
		if err != nil {
			return err
		}
		sess.Stop = end
		sess.Err = errors.New("connection reset")
		return db.End(ctx, sess)
	})
	if err != nil {
		t.Fatalf("could not record session: %+v", err)
	}

	if got, want := len(execs), 3; got != want {
		t.Fatalf("invalid number of statements: got=%d, want=%d", got, want)
	}
	if !strings.Contains(execs[0].Query, "CREATE TABLE IF NOT EXISTS sessions") {
		t.Fatalf("invalid schema statement: %q", execs[0].Query)
	}

	for _, tc := range []struct {
		name string
		exec fakedb.Exec
		want []driver.Value
	}{
		{
			name: "begin",
			exec: execs[1],
			want: []driver.Value{sess.ID.String(), "spim", "127.0.0.1:8090", 0.5, false, false, beg},
		},
		{
			name: "end",
			exec: execs[2],
			want: []driver.Value{end, "connection reset", sess.ID.String()},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, tc.exec.Args); diff != "" {
				t.Fatalf("invalid statement arguments: (-want +got)\n%s", diff)
			}
		})
	}
}

func TestRuns(t *testing.T) {
	db := open(t)

	var (
		beg = time.Date(2020, 9, 1, 10, 0, 0, 0, time.UTC)
		end = beg.Add(time.Minute)
	)
	_, err := fakedb.Run(context.Background(), fakedb.Rows{
		Names: []string{"id", "kind", "addr", "exposure", "project", "cumul", "start", "stop", "error"},
		Values: [][]driver.Value{
			{"id-2", "focus", "127.0.0.1:8088", 0.1, true, false, end, nil, nil},
			{"id-1", "spim", "127.0.0.1:8090", 0.0, false, false, beg, end, "connection reset"},
		},
	}, func(ctx context.Context) error {
		runs, err := db.Runs(ctx, 10)
		if err != nil {
			t.Fatalf("could not retrieve runs: %+v", err)
		}

		want := []Run{
			{ID: "id-2", Kind: "focus", Addr: "127.0.0.1:8088", Exposure: 0.1, Project: true, Start: end},
			{ID: "id-1", Kind: "spim", Addr: "127.0.0.1:8090", Start: beg, Stop: end, Err: "connection reset"},
		}
		if diff := cmp.Diff(want, runs); diff != "" {
			t.Fatalf("invalid runs: (-want +got)\n%s", diff)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("could not run query: %+v", err)
	}
}

func TestErrors(t *testing.T) {
	db := open(t)
	want := errors.New("db is gone")
	sess := acq.Session{ID: uuid.New(), Kind: stream.KindFocus}

	for _, tc := range []struct {
		name string
		fct  func(ctx context.Context) error
	}{
		{"init", db.Init},
		{"begin", func(ctx context.Context) error { return db.Begin(ctx, sess) }},
		{"end", func(ctx context.Context) error { return db.End(ctx, sess) }},
		{"runs", func(ctx context.Context) error { _, err := db.Runs(ctx, 1); return err }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := fakedb.Fail(context.Background(), want, tc.fct)
			if !errors.Is(err, want) {
				t.Fatalf("invalid error: got=%v, want=%v", err, want)
			}
		})
	}
}
