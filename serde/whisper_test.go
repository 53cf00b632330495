//
// Copyright 2016 Gregory Trubetskoy. All Rights Reserved.
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

package serde

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type wspArchive struct {
	step   uint32
	slots  uint32
	points map[uint32]float64
}

// writeWhisper writes a whisper file: metadata, archive info, then the
// archives, all big endian.
func writeWhisper(t *testing.T, path string, archives ...wspArchive) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var maxRetention uint32
	for _, a := range archives {
		if r := a.step * a.slots; r > maxRetention {
			maxRetention = r
		}
	}
	write := func(v interface{}) {
		if err := binary.Write(f, binary.BigEndian, v); err != nil {
			t.Fatal(err)
		}
	}
	write(uint32(1)) // average
	write(maxRetention)
	write(float32(0.5))
	write(uint32(len(archives)))

	offset := uint32(16 + 12*len(archives))
	for _, a := range archives {
		write([]uint32{offset, a.step, a.slots})
		offset += 12 * a.slots
	}
	for _, a := range archives {
		for slot := uint32(0); slot < a.slots; slot++ {
			var (
				ts    uint32
				value float64
			)
			for pts, v := range a.points {
				if pts/a.step%a.slots == slot {
					ts, value = pts, v
				}
			}
			write(ts)
			write(value)
		}
	}
}

func Test_ReadWhisper(t *testing.T) {
	dir := t.TempDir()
	const ts0 = 1464999900

	fine := wspArchive{step: 60, slots: 10, points: map[uint32]float64{}}
	for k := uint32(0); k < 10; k++ {
		fine.points[ts0+60*k] = float64(k)
	}
	coarse := wspArchive{step: 300, slots: 10, points: map[uint32]float64{
		ts0: 100, ts0 + 300: 101,
	}}
	for k := uint32(1); k <= 5; k++ {
		coarse.points[ts0-300*k] = float64(100 + k)
	}
	path := filepath.Join(dir, "web1", "cpu.wsp")
	writeWhisper(t, path, fine, coarse)

	points, err := ReadWhisper(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 15 {
		t.Fatalf("len = %d, want 15: %v", len(points), points)
	}
	if !points[0].T.Equal(time.Unix(ts0-1500, 0)) || points[0].Value != 105 {
		t.Errorf("first point = %v", points[0])
	}
	for i := 1; i < len(points); i++ {
		if !points[i-1].T.Before(points[i].T) {
			t.Errorf("points out of order at %d", i)
		}
	}
	// the fine archive wins where both have data
	if p := points[5]; !p.T.Equal(time.Unix(ts0, 0)) || p.Value != 0 {
		t.Errorf("point at ts0 = %v", p)
	}

	w, err := NewWhisperSource(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	some, err := w.FetchPoints(ctx, "web1.cpu", time.Unix(ts0, 0), time.Unix(ts0+120, 0))
	if err != nil || len(some) != 3 {
		t.Errorf("FetchPoints() = %v, %v", some, err)
	}
	if none, err := w.FetchPoints(ctx, "web1.nope", time.Unix(ts0, 0), time.Unix(ts0+120, 0)); none != nil || err != nil {
		t.Errorf("missing file: %v, %v", none, err)
	}
}

func Test_whisperSource_names(t *testing.T) {
	dir := t.TempDir()
	writeWhisper(t, filepath.Join(dir, "web1", "cpu.wsp"), wspArchive{step: 60, slots: 1})
	writeWhisper(t, filepath.Join(dir, "web1", "mem.wsp"), wspArchive{step: 60, slots: 1})
	writeWhisper(t, filepath.Join(dir, "db1", "disk", "sda.wsp"), wspArchive{step: 60, slots: 1})

	w, err := NewWhisperSource(dir)
	if err != nil {
		t.Fatal(err)
	}
	if p := w.Path("db1.disk.sda"); p != filepath.Join(dir, "db1", "disk", "sda.wsp") {
		t.Errorf("Path() = %q", p)
	}
	if id, ok := w.SeriesID(filepath.Join(dir, "db1", "disk", "sda.wsp")); !ok || id != "db1.disk.sda" {
		t.Errorf("SeriesID() = %q, %v", id, ok)
	}
	if _, ok := w.SeriesID(filepath.Join(dir, "db1", "notes.txt")); ok {
		t.Errorf("SeriesID accepted a non-whisper file")
	}

	ids, err := w.MetricIDs(context.Background(), "web1")
	if err != nil || len(ids) != 2 || ids[0] != "web1.cpu" || ids[1] != "web1.mem" {
		t.Errorf("MetricIDs() = %v, %v", ids, err)
	}
	if ids, _ := w.MetricIDs(context.Background(), "nope"); ids != nil {
		t.Errorf("MetricIDs(nope) = %v", ids)
	}

	var all []string
	w.Walk(func(id, path string) error {
		all = append(all, id)
		return nil
	})
	if len(all) != 3 {
		t.Errorf("Walk() found %v", all)
	}

	if _, err := NewWhisperSource(filepath.Join(dir, "web1", "cpu.wsp")); err == nil {
		t.Errorf("NewWhisperSource accepted a file")
	}
}
