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
	"errors"
	"testing"
	"time"

	"github.com/tgres/tgview/coordinator"
	"github.com/tgres/tgview/serde"
	"github.com/tgres/tgview/series"
	"github.com/tgres/tgview/term"
)

func stubInit(t *testing.T, cfg *Config) {
	// Stub out all the function Init calls

	// readConfig
	save_readConfig := readConfig
	readConfig = func(cfgPath string) (*Config, error) {
		return cfg, nil
	}

	// getCwd
	save_getCwd := getCwd
	getCwd = func() string { return "cwd" }

	// processConfig
	save_processConfig := processConfig
	processConfig = func(c configer, wd string) error { return nil }

	// savePid
	save_savePid := savePid
	savePid = func(pidPath string) error { return nil }

	// waitForSignal
	save_waitForSignal := waitForSignal
	waitForSignal = func(ctx context.Context) {}

	save_runTerm := runTerm
	runTerm = func(ctx context.Context, v *term.Viewer) error { return nil }

	t.Cleanup(func() {
		readConfig = save_readConfig
		getCwd = save_getCwd
		processConfig = save_processConfig
		savePid = save_savePid
		waitForSignal = save_waitForSignal
		runTerm = save_runTerm
	})
}

func testConfig() *Config {
	return &Config{
		RefreshInterval: duration{time.Minute},
		Rows: []ConfigRowSpec{
			{ID: "web1", kind: coordinator.InstanceRow},
			{ID: "db1.disk", kind: coordinator.MetricRow},
		},
		granularity: series.Hourly,
	}
}

func Test_Init(t *testing.T) {
	stubInit(t, testConfig())

	waited := false
	waitForSignal = func(ctx context.Context) { waited = true }

	if cfg := Init("", false); cfg == nil {
		t.Errorf("Init returned nil")
	}
	if !waited {
		t.Errorf("Init did not wait for a signal")
	}
}

func Test_Init_term(t *testing.T) {
	stubInit(t, testConfig())

	ran := false
	runTerm = func(ctx context.Context, v *term.Viewer) error {
		ran = true
		return errors.New("no terminal")
	}
	// closing the terminal viewer must end the wait
	waitForSignal = func(ctx context.Context) { <-ctx.Done() }

	if cfg := Init("", true); cfg == nil {
		t.Errorf("Init returned nil")
	}
	if !ran {
		t.Errorf("terminal viewer did not run")
	}
}

func Test_Init_errors(t *testing.T) {
	stubInit(t, testConfig())

	readConfig = func(cfgPath string) (*Config, error) { return nil, errors.New("no such file") }
	if Init("", false) != nil {
		t.Errorf("Init did not fail on readConfig error")
	}

	readConfig = func(cfgPath string) (*Config, error) { return testConfig(), nil }
	processConfig = func(c configer, wd string) error { return errors.New("bad config") }
	if Init("", false) != nil {
		t.Errorf("Init did not fail on processConfig error")
	}

	processConfig = func(c configer, wd string) error { return nil }
	savePid = func(string) error { return errors.New("read-only") }
	if Init("", false) != nil {
		t.Errorf("Init did not fail on savePid error")
	}
}

type recordingRenderer struct {
	redraws, removes, notifies int
}

func (r *recordingRenderer) Redraw(string, []series.Point, series.TimeRange) { r.redraws++ }
func (r *recordingRenderer) Remove(string)                                   { r.removes++ }
func (r *recordingRenderer) Notify(error)                                    { r.notifies++ }

type redrawOnly struct{ redraws int }

func (r *redrawOnly) Redraw(string, []series.Point, series.TimeRange) { r.redraws++ }

func Test_fanout(t *testing.T) {
	a, b := &recordingRenderer{}, &redrawOnly{}
	f := fanout{a, b}
	f.Redraw("x", nil, series.TimeRange{})
	f.Remove("x")
	f.Notify(errors.New("boom"))
	if a.redraws != 1 || a.removes != 1 || a.notifies != 1 {
		t.Errorf("fanout: %+v", a)
	}
	if b.redraws != 1 {
		t.Errorf("fanout did not redraw to a plain renderer")
	}
}

func Test_createViewer(t *testing.T) {
	cfg := testConfig()
	cfg.CacheSize = 10
	cfg.CacheVolatile = duration{time.Hour}
	cfg.DisplayBars = 48
	cfg.LowerBound.ago = 30 * 24 * time.Hour

	src := serde.NewMemSource()
	v := createViewer(cfg, src, term.New())
	if v.cache == nil {
		t.Errorf("cache not created")
	}
	if _, ok := v.fetchFrom.(*serde.Combined); !ok {
		t.Errorf("listing source is not combined: %T", v.fetchFrom)
	}
	if v.coord.Granularity() != series.Hourly {
		t.Errorf("granularity %v", v.coord.Granularity())
	}
	if w, _ := v.coord.View().Width(); w != 48*time.Hour {
		t.Errorf("view width %v", w)
	}

	cfg.CacheSize = -1
	v = createViewer(cfg, serde.DataSourceFunc(func(context.Context, string, time.Time, time.Time) ([]series.Point, error) {
		return nil, nil
	}), nil)
	if v.cache != nil {
		t.Errorf("cache created although disabled")
	}
	if _, ok := v.fetchFrom.(serde.DataSourceFunc); !ok {
		t.Errorf("non-listing source should be used as is, got %T", v.fetchFrom)
	}
}

func Test_seedDemo(t *testing.T) {
	now := time.Date(2016, 6, 1, 0, 0, 0, 0, time.UTC)
	m := serde.NewMemSource()
	seedDemo(m, testConfig().Rows, now)

	ids, _ := m.MetricIDs(context.Background(), "web1")
	if len(ids) != len(demoMetrics) {
		t.Errorf("web1 metrics: %v", ids)
	}
	points, _ := m.FetchPoints(context.Background(), "db1.disk", now.Add(-time.Hour), now)
	if len(points) != 13 {
		t.Errorf("db1.disk: %d points in the last hour", len(points))
	}
	if points, _ := m.FetchPoints(context.Background(), "web1.cpu", now.Add(-demoSpan), now); len(points) == 0 {
		t.Errorf("web1.cpu has no points")
	}
}
