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
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Writes to whisper files come in bursts (carbon flushes many files at
// once), so a refresh waits this long after the first one.
var watchSettle = 2 * time.Second

type whisperIDs interface {
	SeriesID(path string) (id string, ok bool)
}

type invalidator interface {
	Invalidate(id string) int
}

type refresher interface {
	Refresh(ctx context.Context) error
}

// watchWhisper refreshes the rows whenever a whisper file under root is
// written, dropping anything cached for that series first. It stops
// when ctx is done.
func watchWhisper(ctx context.Context, root string, ids whisperIDs, cache invalidator, r refresher) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	err = filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if err != nil {
		w.Close()
		return nil, err
	}
	log.Printf("Watching %s for whisper file changes.", root)

	go func() {
		defer w.Close()
		var settle <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&fsnotify.Create != 0 {
					if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
						if err := w.Add(ev.Name); err != nil {
							log.Printf("watchWhisper(): %v", err)
						}
						continue
					}
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				id, ok := ids.SeriesID(ev.Name)
				if !ok {
					continue
				}
				cache.Invalidate(id)
				if settle == nil {
					settle = time.After(watchSettle)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Printf("watchWhisper(): %v", err)
			case <-settle:
				settle = nil
				if err := r.Refresh(ctx); err != nil {
					log.Printf("watchWhisper(): refresh: %v", err)
				}
			}
		}
	}()
	return w, nil
}
