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
	"database/sql"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/lib/pq"
	"github.com/tgres/tgview/series"
)

// Postgres error codes of interest.
const (
	pgDuplicateTable  = "42P07"
	pgDuplicateObject = "42710"
)

type pgSource struct {
	dbConn                 *sql.DB
	sql1, sql2, sql3, sql4 *sql.Stmt
	prefix                 string
}

var sqlOpen = func(a, b string) (*sql.DB, error) {
	return sql.Open(a, b)
}

// InitDb connects to PostgreSQL, creates the tables if they do not
// exist and returns a data source reading from them. Table names are
// prefixed with prefix.
func InitDb(connect_string, prefix string) (*pgSource, error) {
	dbConn, err := sqlOpen("postgres", connect_string)
	if err != nil {
		return nil, err
	}
	p := &pgSource{dbConn: dbConn, prefix: prefix}
	if err := p.dbConn.Ping(); err != nil {
		return nil, err
	}
	if err := p.createTablesIfNotExist(); err != nil {
		return nil, err
	}
	if err := p.prepareSqlStatements(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *pgSource) prepareSqlStatements() error {
	var err error
	if p.sql1, err = p.dbConn.Prepare(fmt.Sprintf("SELECT t, value, anomaly FROM %[1]spoint "+
		"WHERE series = $1 AND t >= $2 AND t <= $3 ORDER BY t", p.prefix)); err != nil {
		return err
	}
	if p.sql2, err = p.dbConn.Prepare(fmt.Sprintf("SELECT metrics FROM %[1]sinstance WHERE name = $1", p.prefix)); err != nil {
		return err
	}
	if p.sql3, err = p.dbConn.Prepare(fmt.Sprintf("INSERT INTO %[1]sinstance (name, metrics) VALUES ($1, $2) "+
		"ON CONFLICT (name) DO UPDATE SET metrics = "+
		"(SELECT array_agg(DISTINCT m) FROM unnest(%[1]sinstance.metrics || excluded.metrics) m)", p.prefix)); err != nil {
		return err
	}
	if p.sql4, err = p.dbConn.Prepare(fmt.Sprintf("SELECT name FROM %[1]sinstance ORDER BY name", p.prefix)); err != nil {
		return err
	}
	return nil
}

func isPgError(err error, code pq.ErrorCode) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == code
	}
	return false
}

func (p *pgSource) createTablesIfNotExist() error {
	create_sql := `
       CREATE TABLE IF NOT EXISTS %[1]spoint (
       series TEXT NOT NULL,
       t TIMESTAMPTZ NOT NULL,
       value DOUBLE PRECISION,
       anomaly DOUBLE PRECISION NOT NULL DEFAULT 0);

       CREATE TABLE IF NOT EXISTS %[1]sinstance (
       name TEXT NOT NULL PRIMARY KEY,
       metrics TEXT[] NOT NULL DEFAULT '{}');
    `
	if _, err := p.dbConn.Exec(fmt.Sprintf(create_sql, p.prefix)); err != nil {
		log.Printf("ERROR: initial CREATE TABLE failed: %v", err)
		return err
	}

	create_sql = `
       CREATE UNIQUE INDEX %[1]sidx_point_series_t ON %[1]spoint (series, t);
    `
	if _, err := p.dbConn.Exec(fmt.Sprintf(create_sql, p.prefix)); err != nil {
		if !isPgError(err, pgDuplicateTable) && !isPgError(err, pgDuplicateObject) {
			log.Printf("ERROR: initial CREATE INDEX failed: %v", err)
			return err
		}
	}
	return nil
}

func (p *pgSource) FetchPoints(ctx context.Context, id string, from, to time.Time) ([]series.Point, error) {
	rows, err := p.sql1.QueryContext(ctx, id, from, to)
	if err != nil {
		log.Printf("FetchPoints(): error %v", err)
		return nil, err
	}
	defer rows.Close()

	var result []series.Point
	for rows.Next() {
		pt, err := pointFromRow(rows)
		if err != nil {
			log.Printf("FetchPoints(): database error: %v", err)
			return nil, err
		}
		result = append(result, pt)
	}
	return result, rows.Err()
}

func pointFromRow(rows *sql.Rows) (series.Point, error) {
	var (
		ts      time.Time
		value   sql.NullFloat64
		anomaly float64
	)
	if err := rows.Scan(&ts, &value, &anomaly); err != nil {
		return series.Point{}, err
	}
	pt := series.Point{T: ts, Value: math.NaN(), Anomaly: anomaly}
	if value.Valid {
		pt.Value = value.Float64
	}
	return pt, nil
}

func (p *pgSource) MetricIDs(ctx context.Context, instance string) ([]string, error) {
	var metrics []string
	err := p.sql2.QueryRowContext(ctx, instance).Scan(pq.Array(&metrics))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return metrics, err
}

// Instances returns the names of all known instances.
func (p *pgSource) Instances(ctx context.Context) ([]string, error) {
	rows, err := p.sql4.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		result = append(result, name)
	}
	return result, rows.Err()
}

// AddInstance declares metricIDs as belonging to instance, in addition
// to any already declared.
func (p *pgSource) AddInstance(ctx context.Context, instance string, metricIDs ...string) error {
	_, err := p.sql3.ExecContext(ctx, instance, pq.Array(metricIDs))
	return err
}

// WritePoints stores points for the series id, replacing points at the
// same time. The points are streamed with COPY into a temporary table
// and then upserted.
func (p *pgSource) WritePoints(ctx context.Context, id string, points []series.Point) (err error) {
	if len(points) == 0 {
		return nil
	}
	tx, err := p.dbConn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, fmt.Sprintf("CREATE TEMPORARY TABLE %[1]spoint_load "+
		"(LIKE %[1]spoint INCLUDING DEFAULTS) ON COMMIT DROP", p.prefix)); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(p.prefix+"point_load", "series", "t", "value", "anomaly"))
	if err != nil {
		return err
	}
	for _, pt := range points {
		var value interface{} = pt.Value
		if math.IsNaN(pt.Value) {
			value = nil
		}
		if _, err = stmt.ExecContext(ctx, id, pt.T, value, pt.Anomaly); err != nil {
			stmt.Close()
			return err
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return err
	}
	if err = stmt.Close(); err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %[1]spoint SELECT * FROM %[1]spoint_load "+
		"ON CONFLICT (series, t) DO UPDATE SET value = excluded.value, anomaly = excluded.anomaly", p.prefix)); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *pgSource) Close() error {
	return p.dbConn.Close()
}
