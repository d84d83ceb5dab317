// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tpx3

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRecordWord(t *testing.T) {
	word := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	rec := NewRecord(word, 2)
	if got, want := rec, (Record{7, 6, 5, 4, 3, 2, 1, 0, 2}); got != want {
		t.Fatalf("invalid record: got=%v, want=%v", got, want)
	}
	if diff := cmp.Diff(word, rec.AppendWord(nil)); diff != "" {
		t.Fatalf("invalid word (-want +got):\n%s", diff)
	}
}

func TestScanner(t *testing.T) {
	var (
		want []Record
		raw  = []byte("garbage")
		err  error
	)
	for chip := uint8(0); chip < NumChips; chip++ {
		var recs []Record
		for i := 0; i < 10; i++ {
			rec, e := EncodeHit(int(chip)*200+i, i, float64(i)*1e-6)
			if e != nil {
				t.Fatalf("could not encode hit: %+v", e)
			}
			rec[8] = chip
			recs = append(recs, rec)
		}
		edge, e := EncodeEdge(TDC1Rise, float64(chip))
		if e != nil {
			t.Fatalf("could not encode edge: %+v", e)
		}
		edge[8] = chip
		recs = append(recs, edge)

		raw, err = AppendChunk(raw, chip, 0, recs)
		if err != nil {
			t.Fatalf("could not append chunk: %+v", err)
		}
		want = append(want, recs...)
	}
	// empty chunk.
	raw, err = AppendChunk(raw, 1, 0, nil)
	if err != nil {
		t.Fatalf("could not append chunk: %+v", err)
	}

	for _, chunk := range []int{1, 3, 8, 9, 100, len(raw)} {
		t.Run(fmt.Sprintf("chunk=%d", chunk), func(t *testing.T) {
			var (
				sc  = NewScanner()
				got []Record
			)
			for beg := 0; beg < len(raw); beg += chunk {
				end := beg + chunk
				if end > len(raw) {
					end = len(raw)
				}
				_, _ = sc.Write(raw[beg:end])
				for {
					rec, ok := sc.Next()
					if !ok {
						break
					}
					got = append(got, rec)
				}
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("invalid records (-want +got):\n%s", diff)
			}
			if got, want := sc.Chunks(), NumChips+1; got != want {
				t.Fatalf("invalid number of chunks: got=%d, want=%d", got, want)
			}
			if got, want := sc.Skipped(), len("garbage"); got != want {
				t.Fatalf("invalid number of skipped bytes: got=%d, want=%d", got, want)
			}
			if sc.Len() != 0 {
				t.Fatalf("leftover bytes: %d", sc.Len())
			}
		})
	}
}

func TestScannerReset(t *testing.T) {
	rec, err := EncodeHit(1, 1, 0)
	if err != nil {
		t.Fatalf("could not encode hit: %+v", err)
	}
	raw, err := AppendChunk(nil, 0, 0, []Record{rec, rec})
	if err != nil {
		t.Fatalf("could not append chunk: %+v", err)
	}

	sc := NewScanner()
	_, _ = sc.Write(raw[:len(raw)-4])
	if _, ok := sc.Next(); !ok {
		t.Fatalf("expected a record")
	}
	if _, ok := sc.Next(); ok {
		t.Fatalf("unexpected truncated record")
	}
	sc.Reset()
	if sc.Len() != 0 {
		t.Fatalf("reset did not discard data")
	}

	_, _ = sc.Write(raw)
	n := 0
	for {
		if _, ok := sc.Next(); !ok {
			break
		}
		n++
	}
	if n != 2 {
		t.Fatalf("invalid number of records: got=%d, want=2", n)
	}
}

func TestAppendChunkTooLarge(t *testing.T) {
	_, err := AppendChunk(nil, 0, 0, make([]Record, 0x10000))
	if err == nil {
		t.Fatalf("expected an error")
	}
}
