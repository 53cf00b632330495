//
// Copyright 2015 Gregory Trubetskoy. All Rights Reserved.
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

package daemon

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func stubLogClock(t *testing.T) time.Time {
	now := time.Date(2016, 6, 1, 12, 30, 0, 0, time.UTC)
	save := timeNow
	timeNow = func() time.Time { return now }
	t.Cleanup(func() {
		timeNow = save
		log.SetOutput(os.Stderr)
	})
	return now
}

func Test_archiveName(t *testing.T) {
	now := time.Date(2016, 6, 1, 12, 30, 5, 0, time.UTC)
	if got := archiveName("/var/log/tgview.log", now); got != "/var/log/tgview.log-20160601_123005" {
		t.Errorf("archiveName() = %q", got)
	}
}

func Test_logWriter_cycle(t *testing.T) {
	now := stubLogClock(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "tgview.log")

	w := &logWriter{}
	if err := w.cycle(); err != nil || w.file != nil {
		t.Fatalf("cycle() before open: %v", err)
	}
	if err := w.open(path); err != nil {
		t.Fatal(err)
	}
	log.Printf("before cycle")
	if err := w.cycle(); err != nil {
		t.Fatal(err)
	}
	log.Printf("after cycle")
	w.close()
	if w.file != nil {
		t.Errorf("close() left the file open")
	}

	archived, err := os.ReadFile(archiveName(path, now))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(archived), "before cycle") || strings.Contains(string(archived), "after cycle") {
		t.Errorf("archived log: %q", archived)
	}
	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(current), "after cycle") || strings.Contains(string(current), "before cycle") {
		t.Errorf("current log: %q", current)
	}
}

func Test_logWriter_errors(t *testing.T) {
	stubLogClock(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "tgview.log")

	w := &logWriter{}
	if err := w.open(filepath.Join(dir, "missing", "tgview.log")); err == nil {
		t.Errorf("open() in a missing directory succeeded")
	}

	save := osRename
	osRename = func(a, b string) error { return errors.New("read-only") }
	defer func() { osRename = save }()

	if err := w.open(path); err != nil {
		t.Fatal(err)
	}
	defer w.close()
	log.Printf("kept")
	if err := w.cycle(); err != nil {
		t.Fatalf("cycle() with a failing rename: %v", err)
	}
	log.Printf("appended")
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "kept") || !strings.Contains(string(data), "appended") {
		t.Errorf("log after failed archive: %q", data)
	}
}

func Test_cycleLogs(t *testing.T) {
	stubLogClock(t)
	path := filepath.Join(t.TempDir(), "tgview.log")
	w := &logWriter{}
	if err := w.open(path); err != nil {
		t.Fatal(err)
	}
	defer w.close()

	renamed := make(chan string, 16)
	save := osRename
	osRename = func(a, b string) error {
		select {
		case renamed <- a:
		default:
		}
		return nil
	}
	defer func() { osRename = save }()

	// no interval, no cycling
	cycleLogs(context.Background(), w, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		cycleLogs(ctx, w, 10*time.Millisecond)
		close(done)
	}()
	select {
	case got := <-renamed:
		if got != path {
			t.Errorf("renamed %q, want %q", got, path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("log was never cycled")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cycleLogs did not return when cancelled")
	}
}
