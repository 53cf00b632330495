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

package misc

import (
	"testing"
	"time"
)

func Test_BetterParseDuration(t *testing.T) {
	for s, want := range map[string]time.Duration{
		"5min":  5 * time.Minute,
		"2hour": 2 * time.Hour,
		"90s":   90 * time.Second,
		"1h30m": 90 * time.Minute,
		"2d":    48 * time.Hour,
		"1.5d":  36 * time.Hour,
		"1w":    168 * time.Hour,
		"1mon":  720 * time.Hour,
		"1y":    8760 * time.Hour,
	} {
		got, err := BetterParseDuration(s)
		if err != nil || got != want {
			t.Errorf("BetterParseDuration(%q) = %v, %v; want %v", s, got, err, want)
		}
	}
	for _, s := range []string{"", "d", "xw", "5 parsecs"} {
		if _, err := BetterParseDuration(s); err == nil {
			t.Errorf("BetterParseDuration(%q) did not fail", s)
		}
	}
}

func Test_SanitizeName(t *testing.T) {
	if got := SanitizeName("web 1/cpu:user"); got != "web_1-cpuuser" {
		t.Errorf("SanitizeName() = %q", got)
	}
}
