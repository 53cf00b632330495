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
	"fmt"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tgres/tgview/graceful"
	h "github.com/tgres/tgview/http"
)

func httpMux(v *viewer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", h.PingHandler)
	mux.HandleFunc("/status", h.StatusHandler(v.coord, v.cache))
	mux.HandleFunc("/series", h.SeriesHandler(v.coord, v.fetchFrom))
	mux.HandleFunc("/ws", v.hub.Handler())
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func httpServer(l net.Listener, v *viewer) {
	server := &http.Server{
		Handler:        httpMux(v),
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 16}
	if err := server.Serve(l); err != nil && !isQuitting() {
		log.Printf("httpServer(): %v", err)
	}
}

type wwwServer struct {
	v          *viewer
	listener   *graceful.Listener
	listenSpec string
	stop       int32
}

func (g *wwwServer) Stop() {
	if g.stopped() {
		return
	}
	if g.listener != nil {
		log.Printf("Closing listener %s\n", g.listenSpec)
		g.listener.Close()
	}
	atomic.StoreInt32(&(g.stop), 1)
}

func (g *wwwServer) stopped() bool {
	return atomic.LoadInt32(&(g.stop)) != 0
}

func (g *wwwServer) Wait(timeout time.Duration) bool {
	if g.listener == nil {
		return true
	}
	return g.listener.Wait(timeout)
}

func (g *wwwServer) Start() error {
	if g.listenSpec == "" {
		log.Printf("Not starting HTTP server because http-listen-spec is blank.")
		return nil
	}

	gl, err := net.Listen("tcp", processListenSpec(g.listenSpec))
	if err != nil {
		return fmt.Errorf("Error starting HTTP protocol: %v", err)
	}

	g.listener = graceful.NewListener(gl)

	log.Printf("HTTP protocol Listening on %s\n", processListenSpec(g.listenSpec))

	go httpServer(g.listener, g.v)

	return nil
}
