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

package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tgres/tgview/serde"
)

type fakeRefresher struct {
	called chan struct{}
}

func (f *fakeRefresher) Refresh(ctx context.Context) error {
	f.called <- struct{}{}
	return nil
}

type fakeInvalidator struct {
	lock sync.Mutex
	ids  map[string]bool
}

func (f *fakeInvalidator) Invalidate(id string) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.ids[id] = true
	return 0
}

func (f *fakeInvalidator) has(id string) bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.ids[id]
}

func Test_watchWhisper(t *testing.T) {
	save := watchSettle
	watchSettle = 10 * time.Millisecond
	defer func() { watchSettle = save }()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "web1"), 0755); err != nil {
		t.Fatal(err)
	}
	ws, err := serde.NewWhisperSource(root)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &fakeRefresher{called: make(chan struct{}, 10)}
	inv := &fakeInvalidator{ids: make(map[string]bool)}
	if _, err := watchWhisper(ctx, root, ws, inv, r); err != nil {
		t.Fatal(err)
	}

	// not a whisper file
	if err := os.WriteFile(filepath.Join(root, "web1", "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "web1", "cpu.wsp"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-r.called:
	case <-time.After(5 * time.Second):
		t.Fatal("no refresh after a whisper file was written")
	}
	if !inv.has("web1.cpu") {
		t.Errorf("cache for web1.cpu was not invalidated")
	}
	if inv.has("web1.notes") {
		t.Errorf("invalidated %v", inv.ids)
	}
}

func Test_watchWhisper_noRoot(t *testing.T) {
	r := &fakeRefresher{called: make(chan struct{}, 1)}
	if _, err := watchWhisper(context.Background(), filepath.Join(t.TempDir(), "missing"), nil, nil, r); err == nil {
		t.Errorf("watching a missing directory did not fail")
	}
}
