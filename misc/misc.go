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

// Package misc is misc stuff.
package misc

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	sanitizeRegexSpace       = regexp.MustCompile("\\s+")
	sanitizeRegexSlash       = regexp.MustCompile("/")
	sanitizeRegexNonAlphaNum = regexp.MustCompile("[^a-zA-Z_\\-0-9\\.]")
)

// SanitizeName turns an arbitrary string into something usable as a
// dot separated series id.
func SanitizeName(name string) string {
	name = sanitizeRegexSpace.ReplaceAllString(name, "_")
	name = sanitizeRegexSlash.ReplaceAllString(name, "-")
	return sanitizeRegexNonAlphaNum.ReplaceAllString(name, "")
}

// Units time.ParseDuration does not know about.
var longUnits = []struct {
	suffix string
	unit   time.Duration
}{
	{"min", time.Minute},
	{"hour", time.Hour},
	{"mon", 30 * 24 * time.Hour},
	{"d", 24 * time.Hour},
	{"w", 7 * 24 * time.Hour},
	{"y", 365 * 24 * time.Hour},
}

// BetterParseDuration is time.ParseDuration which also understands
// "min", "hour", "d", "w", "mon" (30 days) and "y" (365 days), e.g.
// "5min" or "1.5d".
func BetterParseDuration(s string) (time.Duration, error) {
	for _, lu := range longUnits {
		if !strings.HasSuffix(s, lu.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(s[:len(s)-len(lu.suffix)], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n * float64(lu.unit)), nil
	}
	return time.ParseDuration(s)
}
