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
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tgres/tgview/coordinator"
	"github.com/tgres/tgview/fetcher"
	"github.com/tgres/tgview/misc"
	"github.com/tgres/tgview/serde"
	"github.com/tgres/tgview/series"
)

const (
	sourceMemory     = "memory"
	sourcePostgres   = "postgres"
	sourceWhisper    = "whisper"
	sourcePrometheus = "prometheus"
)

type Config struct { // Needs to be exported for TOML to work
	PidPath             string          `toml:"pid-file"`
	LogPath             string          `toml:"log-file"`
	LogCycle            duration        `toml:"log-cycle-interval"`
	HttpListenSpec      string          `toml:"http-listen-spec"`
	Source              string          `toml:"source"`
	DbConnectString     string          `toml:"db-connect-string"`
	DbTablePrefix       string          `toml:"db-table-prefix"`
	WhisperDir          string          `toml:"whisper-dir"`
	PrometheusURL       string          `toml:"prometheus-url"`
	PrometheusStep      duration        `toml:"prometheus-step"`
	CacheSize           int             `toml:"cache-size"`
	CacheVolatile       duration        `toml:"cache-volatile"`
	CombineBucket       duration        `toml:"combine-bucket"`
	FetchTimeout        duration        `toml:"fetch-timeout"`
	MaxFetchesPerSecond int             `toml:"max-fetches-per-second"`
	RefreshInterval     duration        `toml:"refresh-interval"`
	DisplayBars         int             `toml:"display-bars"`
	ScrollFetchBars     int             `toml:"scroll-fetch-bars"`
	StickyEdge          float64         `toml:"sticky-edge"`
	LowerBound          timeSpec        `toml:"lower-bound"`
	GranularityName     string          `toml:"granularity"`
	Rows                []ConfigRowSpec `toml:"row"`

	granularity series.Granularity
}

// Needs to be exported for TOML
type ConfigRowSpec struct {
	ID   string `toml:"id"`
	Kind string `toml:"kind"`
	kind coordinator.RowKind
}

type duration struct{ time.Duration }

func (d *duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = misc.BetterParseDuration(string(text))
	return err
}

// timeSpec is either an RFC3339 time or a duration before now, such as
// "-1y".
type timeSpec struct {
	abs time.Time
	ago time.Duration
}

func (ts *timeSpec) UnmarshalText(text []byte) (err error) {
	s := string(text)
	if strings.HasPrefix(s, "-") {
		ts.ago, err = misc.BetterParseDuration(s[1:])
		return err
	}
	ts.abs, err = time.Parse(time.RFC3339, s)
	return err
}

func (ts timeSpec) IsZero() bool {
	return ts.abs.IsZero() && ts.ago == 0
}

// Time resolves the spec relative to now.
func (ts timeSpec) Time(now time.Time) time.Time {
	if ts.ago != 0 {
		return now.Add(-ts.ago)
	}
	return ts.abs
}

var readConfig = func(cfgPath string) (*Config, error) {
	cfg := &Config{}
	_, err := toml.DecodeFile(cfgPath, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) processConfigPidFile(wd string) error {
	if c.PidPath == "" {
		return fmt.Errorf("pid-file setting empty")
	}
	if !filepath.IsAbs(c.PidPath) {
		if wd == "" {
			return fmt.Errorf("pid-file must be absolute path if working directory cannot be determined")
		}
		c.PidPath = filepath.Join(wd, c.PidPath)
	}
	pidDir, _ := filepath.Split(c.PidPath)
	if err := os.MkdirAll(pidDir, 0755); err != nil {
		return errors.New(fmt.Sprintf("Unable to create directory: '%s' (%v).", pidDir, err))
	}
	return nil
}

func (c *Config) processConfigLogFile(wd string) error {
	if os.Getenv("TGVIEW_LOG") != "" {
		c.LogPath = os.Getenv("TGVIEW_LOG")
	}
	if c.LogPath == "" {
		return fmt.Errorf("log-file setting empty")
	}
	if !filepath.IsAbs(c.LogPath) {
		if wd == "" {
			return fmt.Errorf("log-file must be absolute path if working directory cannot be determined")
		}
		c.LogPath = filepath.Join(wd, c.LogPath)
	}
	logDir, _ := filepath.Split(c.LogPath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return errors.New(fmt.Sprintf("Unable to create directory: '%s' (%v).", logDir, err))
	}

	log.Printf("Logs will be written to '%s'.", c.LogPath)
	return nil
}

func (c *Config) processConfigLogCycleInterval() error {
	if c.LogCycle.Duration == 0 {
		return fmt.Errorf("log-cycle-interval setting empty")
	}
	log.Printf("Will cycle logs every %v (log-cycle-interval).", c.LogCycle.Duration)

	logDir, _ := filepath.Split(c.LogPath)
	log.Printf("All further status messages will be written to log file(s) in '%s'.", logDir)
	if err := openLogFile(c.LogPath); err != nil {
		return err
	}
	log.Print("Server starting.")

	return nil
}

func (c *Config) processHttpListenSpec() error {
	if c.HttpListenSpec == "" {
		log.Printf("http-listen-spec is empty, the browser viewer will not be available.")
	} else {
		log.Printf("HTTP will listen on %s (http-listen-spec).", c.HttpListenSpec)
	}
	return nil
}

func (c *Config) processSource(wd string) error {
	if c.Source == "" {
		log.Printf("source is empty, defaulting to '%s'", sourceMemory)
		c.Source = sourceMemory
	}
	switch c.Source {
	case sourceMemory:
	case sourcePostgres:
		if os.Getenv("TGVIEW_DB_CONNECT") != "" {
			c.DbConnectString = os.Getenv("TGVIEW_DB_CONNECT")
		}
		if c.DbConnectString == "" {
			return fmt.Errorf("db-connect-string empty")
		}
	case sourceWhisper:
		if c.WhisperDir == "" {
			return fmt.Errorf("whisper-dir empty")
		}
		if !filepath.IsAbs(c.WhisperDir) {
			c.WhisperDir = filepath.Join(wd, c.WhisperDir)
		}
		log.Printf("Whisper files will be read from '%s' (whisper-dir).", c.WhisperDir)
	case sourcePrometheus:
		if _, err := url.Parse(c.PrometheusURL); err != nil || c.PrometheusURL == "" {
			return fmt.Errorf("invalid prometheus-url: %q", c.PrometheusURL)
		}
		if c.PrometheusStep.Duration == 0 {
			c.PrometheusStep.Duration = serde.DefaultPromStep
		}
		log.Printf("Querying %s with a step of %v (prometheus-url, prometheus-step).", c.PrometheusURL, c.PrometheusStep.Duration)
	default:
		return fmt.Errorf("invalid source: %q (valid sources: %s, %s, %s, %s)", c.Source,
			sourceMemory, sourcePostgres, sourceWhisper, sourcePrometheus)
	}
	log.Printf("Data source is %s (source).", c.Source)
	return nil
}

func (c *Config) processCache() error {
	if c.CacheSize < 0 {
		log.Printf("cache-size is negative, fetch results will not be cached.")
		return nil
	}
	if c.CacheSize == 0 {
		c.CacheSize = serde.DefaultCacheSize
	}
	if c.CacheVolatile.Duration == 0 {
		c.CacheVolatile.Duration = serde.DefaultCacheVolatile
	}
	if c.CombineBucket.Duration == 0 {
		c.CombineBucket.Duration = serde.DefaultCombineBucket
	}
	log.Printf("Caching up to %d fetches of data older than %v (cache-size, cache-volatile).", c.CacheSize, c.CacheVolatile.Duration)
	return nil
}

func (c *Config) processFetcher() error {
	if c.FetchTimeout.Duration == 0 {
		c.FetchTimeout.Duration = fetcher.DefaultTimeout
	}
	log.Printf("Fetches time out after %v (fetch-timeout).", c.FetchTimeout.Duration)
	if c.MaxFetchesPerSecond <= 0 {
		log.Printf("max-fetches-per-second unspecified, fetches are not rate limited.")
	} else {
		log.Printf("Fetches are limited to %d per second (max-fetches-per-second).", c.MaxFetchesPerSecond)
	}
	if c.ScrollFetchBars <= 0 {
		c.ScrollFetchBars = fetcher.DefaultScrollFetchBars
	}
	log.Printf("Scrolling past the data fetches %d bars (scroll-fetch-bars).", c.ScrollFetchBars)
	return nil
}

func (c *Config) processRefreshInterval() error {
	if c.RefreshInterval.Duration == 0 {
		return fmt.Errorf("refresh-interval is missing")
	}
	if c.RefreshInterval.Duration < 0 {
		return fmt.Errorf("refresh-interval must be positive, got %v", c.RefreshInterval.Duration)
	}
	log.Printf("Newer data will be polled every %v (refresh-interval).", c.RefreshInterval.Duration)
	return nil
}

func (c *Config) processDisplay() error {
	if c.DisplayBars <= 0 {
		c.DisplayBars = coordinator.DefaultDisplayBars
	}
	if c.StickyEdge <= 0 {
		c.StickyEdge = coordinator.DefaultStickyEdge
	} else if c.StickyEdge >= 1 {
		return fmt.Errorf("sticky-edge must be less than 1, got %v", c.StickyEdge)
	}
	c.granularity = series.DefaultGranularity
	if c.GranularityName != "" {
		g, err := series.ParseGranularity(c.GranularityName)
		if err != nil {
			return err
		}
		c.granularity = g
	}
	log.Printf("Showing %d bars at %v granularity (display-bars, granularity).", c.DisplayBars, c.granularity)
	if !c.LowerBound.IsZero() {
		log.Printf("Will not scroll past %v (lower-bound).", c.LowerBound.Time(timeNow()))
	}
	return nil
}

func (c *Config) processRows() error {
	seen := make(map[string]bool)
	for i := range c.Rows {
		row := &c.Rows[i]
		if row.ID == "" {
			return fmt.Errorf("row %d: id missing", i)
		}
		if seen[row.ID] {
			return fmt.Errorf("row %q appears more than once", row.ID)
		}
		seen[row.ID] = true
		kind, err := coordinator.ParseRowKind(row.Kind)
		if err != nil {
			return fmt.Errorf("row %q: %v", row.ID, err)
		}
		if kind == coordinator.DetailRow {
			return fmt.Errorf("row %q: detail rows can only be opened from a metric row", row.ID)
		}
		row.kind = kind
	}
	log.Printf("Configured with %d rows.", len(c.Rows))
	return nil
}

type configer interface {
	processConfigPidFile(string) error
	processConfigLogFile(string) error
	processConfigLogCycleInterval() error
	processHttpListenSpec() error
	processSource(string) error
	processCache() error
	processFetcher() error
	processRefreshInterval() error
	processDisplay() error
	processRows() error
}

var processConfig = func(c configer, wd string) error {

	if err := c.processConfigPidFile(wd); err != nil {
		return err
	}
	if err := c.processConfigLogFile(wd); err != nil {
		return err
	}
	if err := c.processConfigLogCycleInterval(); err != nil {
		return err
	}
	if err := c.processHttpListenSpec(); err != nil {
		return err
	}
	if err := c.processSource(wd); err != nil {
		return err
	}
	if err := c.processCache(); err != nil {
		return err
	}
	if err := c.processFetcher(); err != nil {
		return err
	}
	if err := c.processRefreshInterval(); err != nil {
		return err
	}
	if err := c.processDisplay(); err != nil {
		return err
	}
	if err := c.processRows(); err != nil {
		return err
	}
	return nil
}
