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

package serde

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/tgres/tgview/series"
)

const (
	DefaultCacheSize     = 1024
	DefaultCacheVolatile = time.Hour
)

var timeNow = func() time.Time { return time.Now() }

// Cached is a DataSource which remembers fetch results. Only ranges
// which end more than volatile ago are cached, more recent data may
// still change.
type Cached struct {
	src      DataSource
	cache    *lru.Cache
	volatile time.Duration
	hits     int64
	misses   int64
}

type cacheEntry struct {
	points []series.Point
}

func NewCached(src DataSource, size int, volatile time.Duration) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cached{src: src, cache: cache, volatile: volatile}, nil
}

func cacheKey(id string, from, to time.Time) string {
	return fmt.Sprintf("%s\x00%d\x00%d", id, from.UnixNano(), to.UnixNano())
}

func (c *Cached) FetchPoints(ctx context.Context, id string, from, to time.Time) ([]series.Point, error) {
	cacheable := to.Before(timeNow().Add(-c.volatile))
	key := cacheKey(id, from, to)
	if cacheable {
		if e, ok := c.cache.Get(key); ok {
			atomic.AddInt64(&c.hits, 1)
			return copyPoints(e.(*cacheEntry).points), nil
		}
	}
	atomic.AddInt64(&c.misses, 1)

	points, err := c.src.FetchPoints(ctx, id, from, to)
	if err != nil {
		return nil, err
	}
	if cacheable {
		c.cache.Add(key, &cacheEntry{points: copyPoints(points)})
	}
	return points, nil
}

func copyPoints(points []series.Point) []series.Point {
	if points == nil {
		return nil
	}
	result := make([]series.Point, len(points))
	copy(result, points)
	return result
}

// Invalidate drops all cached ranges of the series id. It is a no-op
// on a nil cache.
func (c *Cached) Invalidate(id string) int {
	if c == nil {
		return 0
	}
	prefix := id + "\x00"
	n := 0
	for _, k := range c.cache.Keys() {
		if strings.HasPrefix(k.(string), prefix) {
			c.cache.Remove(k)
			n++
		}
	}
	return n
}

// Stats returns the number of cache hits and misses so far.
func (c *Cached) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

func (c *Cached) Len() int {
	return c.cache.Len()
}
