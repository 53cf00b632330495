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

package series

import (
	"fmt"
	"strings"
	"time"
)

// Granularity controls how much time one rendered bar represents.
type Granularity int

const (
	FiveMinute Granularity = iota
	Hourly
	Daily
	Weekly
)

// DefaultGranularity is what a fresh chart starts with.
const DefaultGranularity = Hourly

// BarWidth is the amount of time represented by a single bar.
func (g Granularity) BarWidth() time.Duration {
	switch g {
	case FiveMinute:
		return 5 * time.Minute
	case Hourly:
		return time.Hour
	case Daily:
		return 24 * time.Hour
	case Weekly:
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

func (g Granularity) String() string {
	switch g {
	case FiveMinute:
		return "5min"
	case Hourly:
		return "hourly"
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	default:
		return fmt.Sprintf("Granularity(%d)", int(g))
	}
}

func (g *Granularity) UnmarshalText(text []byte) (err error) {
	*g, err = ParseGranularity(string(text))
	return err
}

func (g Granularity) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "5min", "5m", "fiveminute", "minutes":
		return FiveMinute, nil
	case "hourly", "hour", "hours", "1h":
		return Hourly, nil
	case "daily", "day", "days", "1d":
		return Daily, nil
	case "weekly", "week", "weeks", "1w":
		return Weekly, nil
	}
	return Hourly, fmt.Errorf("invalid granularity: %q (valid: 5min, hourly, daily, weekly)", s)
}

// Granularities returns all granularities from finest to coarsest.
func Granularities() []Granularity {
	return []Granularity{FiveMinute, Hourly, Daily, Weekly}
}
