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
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/tgres/tgview/coordinator"
	"github.com/tgres/tgview/serde"
	"github.com/tgres/tgview/term"
)

var quitting int32

func isQuitting() bool {
	return atomic.LoadInt32(&quitting) != 0
}

var getCwd = func() string {
	wd, err := os.Getwd()
	if err != nil {
		log.Printf("Unable to determine current working directory: %v", err)
		return ""
	}
	return wd
}

var savePid = func(pidPath string) error {
	f, err := os.Create(pidPath)
	if err != nil {
		return fmt.Errorf("Unable to create pid file '%s': (%v)", pidPath, err)
	}
	defer f.Close()
	fmt.Fprintf(f, "%d\n", os.Getpid())
	log.Printf("Pid saved in %s.", pidPath)
	return nil
}

var waitForSignal = func(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(ch)
	select {
	case s := <-ch:
		log.Printf("Got signal: %v", s)
	case <-ctx.Done():
		log.Printf("Viewer closed.")
	}
}

var runTerm = func(ctx context.Context, v *term.Viewer) error {
	return v.Run(ctx)
}

// Init reads the config, starts the viewer and blocks until it is time
// to exit. It returns nil if the daemon could not start, otherwise the
// config, which should be passed to Finish. If useTerm is true the rows
// are also shown in the terminal and closing it exits.
func Init(cfgPath string, useTerm bool) (cfg *Config) { // not to be confused with init()
	log.Printf("Tgview starting.")

	var err error
	if cfg, err = readConfig(cfgPath); err != nil {
		log.Printf("Error reading config file %s: %v", cfgPath, err)
		return nil
	}

	if err := processConfig(cfg, getCwd()); err != nil {
		log.Printf("Error in config file %s: %v", cfgPath, err)
		return nil
	}

	if err := savePid(cfg.PidPath); err != nil {
		log.Printf("%v", err)
		return nil
	}

	src, err := initSource(cfg)
	if err != nil {
		log.Printf("Error initializing %s source: %v", cfg.Source, err)
		return nil
	}
	log.Printf("Initialized %s source.", cfg.Source)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cycleLogs(ctx, logOut, cfg.LogCycle.Duration)

	var tv *term.Viewer
	if useTerm {
		tv = term.New()
	}
	v := createViewer(cfg, src, tv)

	if err := addRows(ctx, v.coord, cfg.Rows); err != nil {
		log.Printf("Error adding rows: %v", err)
		return cfg
	}
	go v.coord.Run(ctx, cfg.RefreshInterval.Duration)

	if cfg.Source == sourceWhisper {
		if _, err := watchWhisper(ctx, cfg.WhisperDir, src.(whisperIDs), v.cache, v.coord); err != nil {
			log.Printf("Not watching %s for changes: %v", cfg.WhisperDir, err)
		}
	}

	sm := newServiceManager(v, cfg)
	if err := sm.run(); err != nil {
		log.Printf("Could not run the service manager: %v", err)
		return cfg
	}

	if tv != nil {
		go func() {
			if err := runTerm(ctx, tv); err != nil {
				log.Printf("Terminal viewer: %v", err)
			}
			cancel()
		}()
	}

	waitForSignal(ctx)
	gracefulExit(sm, v)
	return cfg
}

// addRows adds the configured rows in config file order.
func addRows(ctx context.Context, coord *coordinator.Coordinator, rows []ConfigRowSpec) error {
	for _, row := range rows {
		if _, err := coord.AddRow(ctx, row.kind, row.ID); err != nil {
			return fmt.Errorf("row %q: %v", row.ID, err)
		}
	}
	return nil
}

func gracefulExit(sm *serviceManager, v *viewer) {
	log.Printf("Gracefully exiting...")
	atomic.StoreInt32(&quitting, 1)

	log.Printf("Waiting for all TCP connections to finish...")
	v.hub.Stop()
	sm.closeListeners(5 * time.Second)
	log.Printf("TCP connections finished.")

	if c, ok := v.src.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			log.Printf("Error closing source: %v", err)
		}
	}
}

func Finish(cfg *Config) {
	atomic.StoreInt32(&quitting, 1)
	log.Println("main: All goroutines finished, exiting.")

	logOut.close()

	os.Remove(cfg.PidPath)
}

// initSource creates the configured data source.
var initSource = func(cfg *Config) (serde.DataSource, error) {
	switch cfg.Source {
	case sourcePostgres:
		return serde.InitDb(cfg.DbConnectString, cfg.DbTablePrefix)
	case sourceWhisper:
		return serde.NewWhisperSource(cfg.WhisperDir)
	case sourcePrometheus:
		return serde.NewPromSource(cfg.PrometheusURL, cfg.PrometheusStep.Duration)
	}
	m := serde.NewMemSource()
	seedDemo(m, cfg.Rows, timeNow())
	return m, nil
}
