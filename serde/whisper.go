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
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kisielk/whisper-go/whisper"
	"github.com/tgres/tgview/series"
)

// WhisperExt is the file name extension of whisper files.
const WhisperExt = ".wsp"

type whisperSource struct {
	root string
}

// NewWhisperSource returns a data source reading the whisper files
// under root, Graphite style: the series "a.b.c" is the file
// root/a/b/c.wsp. The instance "a.b" has one metric per file in
// root/a/b.
func NewWhisperSource(root string) (*whisperSource, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	return &whisperSource{root: root}, nil
}

// Path returns the file for the series id.
func (w *whisperSource) Path(id string) string {
	return filepath.Join(w.root, filepath.FromSlash(strings.Replace(id, ".", "/", -1))+WhisperExt)
}

// SeriesID is the inverse of Path. ok is false if path is not a
// whisper file under the root.
func (w *whisperSource) SeriesID(path string) (id string, ok bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") || !strings.HasSuffix(rel, WhisperExt) {
		return "", false
	}
	rel = strings.TrimSuffix(rel, WhisperExt)
	return strings.Replace(filepath.ToSlash(rel), "/", ".", -1), true
}

func (w *whisperSource) FetchPoints(ctx context.Context, id string, from, to time.Time) ([]series.Point, error) {
	points, err := ReadWhisper(w.Path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	i := sort.Search(len(points), func(i int) bool { return !points[i].T.Before(from) })
	j := sort.Search(len(points), func(i int) bool { return points[i].T.After(to) })
	if i >= j {
		return nil, nil
	}
	return points[i:j], nil
}

func (w *whisperSource) MetricIDs(ctx context.Context, instance string) ([]string, error) {
	dir := filepath.Join(w.root, filepath.FromSlash(strings.Replace(instance, ".", "/", -1)))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var result []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), WhisperExt) {
			continue
		}
		result = append(result, instance+"."+strings.TrimSuffix(e.Name(), WhisperExt))
	}
	return result, nil
}

// Walk calls fn with the series id of every whisper file under the
// root.
func (w *whisperSource) Walk(fn func(id, path string) error) error {
	return filepath.Walk(w.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if id, ok := w.SeriesID(path); ok {
			return fn(id, path)
		}
		return nil
	})
}

// ReadWhisper returns all points of a whisper file in time order. The
// archives are read from high to low resolution; a lower resolution
// archive only contributes points older than anything the previous
// archives cover, so there are never duplicates.
func ReadWhisper(path string) ([]series.Point, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	w, err := whisper.OpenWhisper(fd)
	if err != nil {
		fd.Close()
		return nil, fmt.Errorf("ReadWhisper(): %s: %v", path, err)
	}
	defer w.Close()

	points := make(map[uint32]float64)
	var earliestArchiveTimestamp uint32
	for i, archive := range w.Header.Archives {
		allPoints, err := w.DumpArchive(i)
		if err != nil {
			return nil, fmt.Errorf("ReadWhisper(): %s: archive %d: %v", path, i, err)
		}

		var earliest, latest uint32
		for _, point := range allPoints {
			// slots never written to have a zero timestamp
			if point.Timestamp == 0 {
				continue
			}
			if earliestArchiveTimestamp != 0 && point.Timestamp >= earliestArchiveTimestamp {
				continue
			}
			points[point.Timestamp] = point.Value
			if earliest == 0 || point.Timestamp < earliest {
				earliest = point.Timestamp
			}
			if point.Timestamp > latest {
				latest = point.Timestamp
			}
		}
		if latest == 0 {
			continue
		}

		// a slot older than the retention is stale data left over
		// from a previous pass around the ring
		retention := archive.SecondsPerPoint * archive.Points
		if latest > retention && earliest < latest-retention {
			earliest = latest - retention
		}
		for ts := range points {
			if ts < earliest {
				delete(points, ts)
			}
		}
		earliestArchiveTimestamp = earliest
	}

	result := make([]series.Point, 0, len(points))
	for ts, v := range points {
		result = append(result, series.Point{T: time.Unix(int64(ts), 0), Value: v})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].T.Before(result[j].T) })
	return result, nil
}
