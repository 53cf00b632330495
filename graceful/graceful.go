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

// Package graceful provides a listener which keeps track of the
// connections it accepted, so that a server can stop accepting and then
// wait for the open ones to finish.
package graceful

import (
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

type gracefulConn struct {
	net.Conn
	gl   *Listener
	once sync.Once
}

func (w *gracefulConn) Close() error {
	err := w.Conn.Close()
	w.once.Do(func() {
		atomic.AddInt64(&w.gl.open, -1)
		w.gl.wg.Done()
	})
	return err
}

type Listener struct {
	net.Listener
	wg     sync.WaitGroup
	open   int64
	closed int32
}

func NewListener(l net.Listener) *Listener {
	return &Listener{Listener: l}
}

// Close stops accepting. Connections already accepted stay open.
// Closing more than once returns EINVAL.
func (gl *Listener) Close() error {
	if !atomic.CompareAndSwapInt32(&gl.closed, 0, 1) {
		return syscall.EINVAL
	}
	return gl.Listener.Close()
}

func (gl *Listener) Accept() (net.Conn, error) {
	c, err := gl.Listener.Accept()
	if err != nil {
		return nil, err
	}
	gl.wg.Add(1)
	atomic.AddInt64(&gl.open, 1)
	return &gracefulConn{Conn: c, gl: gl}, nil
}

// Open returns the number of accepted connections not yet closed.
func (gl *Listener) Open() int {
	return int(atomic.LoadInt64(&gl.open))
}

// Wait blocks until all accepted connections are closed, or timeout
// passes, in which case it returns false. Zero timeout waits forever.
func (gl *Listener) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		gl.wg.Wait()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
