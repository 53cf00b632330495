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
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

func init() {
	log.SetPrefix(fmt.Sprintf("[%d] ", os.Getpid()))
}

var timeNow = func() time.Time {
	return time.Now()
}

var osRename = func(a, b string) error {
	return os.Rename(a, b)
}

// logWriter is the file the standard logger writes to, if any.
type logWriter struct {
	lock sync.Mutex
	path string
	file *os.File
}

var logOut = &logWriter{}

// openLogFile sends all further log output to the file at path.
var openLogFile = func(path string) error {
	return logOut.open(path)
}

// archiveName is the name the log at path is given when cycled at t.
func archiveName(path string, t time.Time) string {
	dir, file := filepath.Split(path)
	return filepath.Join(dir, file+t.Format("-20060102_150405"))
}

func (w *logWriter) open(path string) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.path = path
	return w.reopen()
}

// cycle archives the current log file and starts a new one. It does
// nothing while logging to stderr.
func (w *logWriter) cycle() error {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.file == nil {
		return nil
	}
	archive := archiveName(w.path, timeNow())
	log.Printf("Starting new log file, current log archived as: '%s'", archive)
	if err := osRename(w.path, archive); err != nil {
		// reopening appends to the same file
		log.Printf("Unable to archive log file '%s': %v", w.path, err)
	}
	return w.reopen()
}

// reopen must be called with the lock held. On error the log keeps
// going wherever it was.
func (w *logWriter) reopen() error {
	file, err := os.OpenFile(w.path, os.O_RDWR|os.O_CREATE|os.O_APPEND|os.O_SYNC, 0666)
	if err != nil {
		return fmt.Errorf("Unable to open log file '%s': %v", w.path, err)
	}
	log.SetOutput(file)
	if w.file != nil {
		w.file.Close()
	}
	w.file = file
	return nil
}

// close points the log back at stderr.
func (w *logWriter) close() {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.file != nil {
		log.SetOutput(os.Stderr)
		w.file.Close()
		w.file = nil
	}
}

// cycleLogs cycles w every interval until ctx is done.
func cycleLogs(ctx context.Context, w *logWriter, interval time.Duration) {
	if interval <= 0 {
		return
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := w.cycle(); err != nil {
				log.Printf("cycleLogs(): %v", err)
			}
		}
	}
}
