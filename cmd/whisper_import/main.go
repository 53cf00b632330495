//
// Copyright 2017 Gregory Trubetskoy. All Rights Reserved.
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

// Whisper_import copies a tree of Graphite whisper files into the
// PostgreSQL tables tgview reads from. Every file becomes a series, and
// every directory holding whisper files becomes an instance whose
// metrics are those files.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tgres/tgview/serde"
	"github.com/tgres/tgview/series"
)

type walker interface {
	Walk(fn func(id, path string) error) error
}

type pointWriter interface {
	WritePoints(ctx context.Context, id string, points []series.Point) error
	AddInstance(ctx context.Context, instance string, metricIDs ...string) error
}

var readWhisper = serde.ReadWhisper

type importer struct {
	w          pointWriter
	root       string // only import files under root
	namePrefix string
	batchSize  int

	instances          map[string][]string
	totalPoints, count int
}

func main() {

	var (
		whisperDir, root, dbConnect, namePrefix string
		batchSize                               int
	)

	flag.StringVar(&whisperDir, "whisperDir", "/opt/graphite/storage/whisper/", "location where all whisper files are stored")
	flag.StringVar(&root, "root", "", "location of files to be imported, should be subdirectory of whisperDir, defaults to whisperDir")
	flag.StringVar(&dbConnect, "dbconnect", "host=/var/run/postgresql dbname=tgres sslmode=disable", "db connect string")
	flag.StringVar(&namePrefix, "prefix", "", "series name prefix")
	flag.IntVar(&batchSize, "batch", 200, "register instances after this many files")

	flag.Parse()

	if root == "" {
		root = whisperDir
	}

	src, err := serde.NewWhisperSource(whisperDir)
	if err != nil {
		fmt.Printf("Error opening %s: %v\n", whisperDir, err)
		os.Exit(1)
	}

	db, err := serde.InitDb(dbConnect, os.Getenv("TGVIEW_DB_PREFIX"))
	if err != nil {
		fmt.Printf("Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	imp := &importer{w: db, root: root, namePrefix: namePrefix, batchSize: batchSize}
	if err := imp.run(context.Background(), src); err != nil {
		fmt.Printf("Import failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("DONE: GRAND TOTAL %d points across %d series.\n", imp.totalPoints, imp.count)
}

func seriesName(id, prefix string) string {
	if prefix != "" {
		return prefix + "." + id
	}
	return id
}

// instanceOf is the series name without its last component: the
// instance of "web1.cpu" is "web1". Top level names have none.
func instanceOf(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i]
	}
	return ""
}

func (imp *importer) run(ctx context.Context, src walker) error {
	imp.instances = make(map[string][]string)
	root := filepath.Clean(imp.root)

	err := src.Walk(func(id, path string) error {
		if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
			return nil
		}

		points, err := readWhisper(path)
		if err != nil {
			fmt.Printf("Skipping %v due to error: %v\n", path, err)
			return nil
		}

		name := seriesName(id, imp.namePrefix)
		fmt.Printf("Processing: %v (%d points)\n", name, len(points))
		if err := imp.w.WritePoints(ctx, name, points); err != nil {
			return fmt.Errorf("%s: %v", name, err)
		}
		if inst := instanceOf(name); inst != "" {
			imp.instances[inst] = append(imp.instances[inst], name)
		}

		imp.totalPoints += len(points)
		imp.count++
		if imp.batchSize > 0 && imp.count%imp.batchSize == 0 {
			fmt.Printf("+++ Batch size reached: %v\n", imp.batchSize)
			return imp.flushInstances(ctx)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return imp.flushInstances(ctx)
}

func (imp *importer) flushInstances(ctx context.Context) error {
	names := make([]string, 0, len(imp.instances))
	for inst := range imp.instances {
		names = append(names, inst)
	}
	sort.Strings(names)
	for _, inst := range names {
		if err := imp.w.AddInstance(ctx, inst, imp.instances[inst]...); err != nil {
			return fmt.Errorf("instance %s: %v", inst, err)
		}
	}
	imp.instances = make(map[string][]string)
	return nil
}
