// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	// metrics are not registered globally: creating them twice must not panic.
	_ = New()
	m := New()

	m.RecordSessionStart("focus")
	m.RecordSessionStart("spim")
	m.RecordSessionStop(2)
	m.RecordFrame(262144)
	m.RecordFrame(262144)
	m.RecordRecord("hit")
	m.RecordEdge("tdc1-rise")
	m.BytesReceived.Add(42)

	for _, tc := range []struct {
		name string
		got  float64
		want float64
	}{
		{"active", testutil.ToFloat64(m.ActiveSessions), 1},
		{"focus", testutil.ToFloat64(m.Sessions.WithLabelValues("focus")), 1},
		{"frames", testutil.ToFloat64(m.Frames), 2},
		{"hits", testutil.ToFloat64(m.Records.WithLabelValues("hit")), 1},
		{"edges", testutil.ToFloat64(m.Edges.WithLabelValues("tdc1-rise")), 1},
		{"bytes", testutil.ToFloat64(m.BytesReceived), 42},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Fatalf("invalid metric value: got=%v, want=%v", tc.got, tc.want)
			}
		})
	}

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("could not get metrics: %+v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("could not read metrics: %+v", err)
	}
	if !strings.Contains(string(body), "tp3_frames_received_total 2") {
		t.Fatalf("missing frames metric:\n%s", body)
	}
}
