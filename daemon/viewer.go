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
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/tgres/tgview/coordinator"
	"github.com/tgres/tgview/fetcher"
	h "github.com/tgres/tgview/http"
	"github.com/tgres/tgview/serde"
	"github.com/tgres/tgview/series"
	"github.com/tgres/tgview/term"
)

// fanout passes render instructions on to every attached renderer.
type fanout []coordinator.Renderer

func (f fanout) Redraw(rowID string, points []series.Point, view series.TimeRange) {
	for _, r := range f {
		r.Redraw(rowID, points, view)
	}
}

func (f fanout) Remove(rowID string) {
	for _, r := range f {
		if rm, ok := r.(coordinator.Remover); ok {
			rm.Remove(rowID)
		}
	}
}

func (f fanout) Notify(err error) {
	log.Printf("Notify(): %v", err)
	for _, r := range f {
		if n, ok := r.(coordinator.Notifier); ok {
			n.Notify(err)
		}
	}
}

// viewer is everything built on top of the data source.
type viewer struct {
	src       serde.DataSource // as configured
	fetchFrom serde.DataSource // src behind the cache and combiner
	cache     *serde.Cached    // nil if disabled
	fetcher   *fetcher.Fetcher
	coord     *coordinator.Coordinator
	hub       *h.Hub
	term      *term.Viewer // nil unless -term
}

// createViewer wraps src in the cache and the instance combiner, and
// connects a coordinator to the browser hub and the terminal.
func createViewer(cfg *Config, src serde.DataSource, tv *term.Viewer) *viewer {
	v := &viewer{src: src, fetchFrom: src, term: tv}

	if cfg.CacheSize > 0 {
		c, err := serde.NewCached(src, cfg.CacheSize, cfg.CacheVolatile.Duration)
		if err != nil {
			log.Printf("createViewer(): not caching: %v", err)
		} else {
			v.cache, v.fetchFrom = c, c
		}
	}

	lister, _ := src.(serde.MetricLister)
	if lister != nil {
		v.fetchFrom = serde.NewCombined(v.fetchFrom, lister, cfg.CombineBucket.Duration)
	}

	v.fetcher = fetcher.New(v.fetchFrom)
	v.fetcher.Timeout = cfg.FetchTimeout.Duration
	v.fetcher.ScrollFetchBars = cfg.ScrollFetchBars
	v.fetcher.SetRateLimit(cfg.MaxFetchesPerSecond)

	v.hub = h.NewHub()
	renderers := fanout{v.hub}
	if tv != nil {
		renderers = append(renderers, tv)
	}

	ccfg := coordinator.Config{
		DisplayBars: cfg.DisplayBars,
		Granularity: cfg.granularity,
		StickyEdge:  cfg.StickyEdge,
	}
	if !cfg.LowerBound.IsZero() {
		ccfg.LowerBound = cfg.LowerBound.Time(timeNow())
	}
	v.coord = coordinator.New(v.fetcher, renderers, ccfg)
	v.coord.Notifier = renderers
	v.coord.Lister = lister

	v.hub.Attach(v.coord)
	if tv != nil {
		tv.Attach(v.coord)
	}
	return v
}

const (
	demoSpan = 7 * 24 * time.Hour
	demoStep = 5 * time.Minute
)

var demoMetrics = []string{"cpu", "load", "mem"}

type demoSource interface {
	Insert(id string, points ...series.Point)
	AddInstance(instance string, metricIDs ...string) error
}

// seedDemo fills an in-memory source with a week of made up data for
// the configured rows. Instance rows get a few metrics each.
func seedDemo(m demoSource, rows []ConfigRowSpec, now time.Time) {
	rnd := rand.New(rand.NewSource(now.UnixNano()))
	wave := func(id string) {
		phase := rnd.Float64() * 2 * math.Pi
		amp := 10 + rnd.Float64()*40
		end := now.Truncate(demoStep)
		points := make([]series.Point, 0, int(demoSpan/demoStep)+1)
		for t := end.Add(-demoSpan); !t.After(end); t = t.Add(demoStep) {
			day := float64(t.Unix()%86400) / 86400
			v := amp + amp*math.Sin(2*math.Pi*day+phase) + rnd.Float64()*amp/5
			p := series.Point{T: t, Value: v}
			if rnd.Intn(500) == 0 {
				p.Value *= 3
				p.Anomaly = 1
			}
			points = append(points, p)
		}
		m.Insert(id, points...)
	}
	for _, row := range rows {
		if row.kind == coordinator.InstanceRow {
			var ids []string
			for _, name := range demoMetrics {
				ids = append(ids, row.ID+"."+name)
				wave(row.ID + "." + name)
			}
			if err := m.AddInstance(row.ID, ids...); err != nil {
				log.Printf("seedDemo(): %v", err)
			}
		} else {
			wave(row.ID)
		}
	}
	log.Printf("Seeded the memory source with demo data for %d rows.", len(rows))
}
