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
	"time"
)

// InvalidRangeError is returned when a TimeRange would end before it
// starts. Ranges are never silently clamped.
type InvalidRangeError struct {
	Start, End time.Time
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid time range: end %v is before start %v", e.End, e.Start)
}

// TimeRange is a closed interval [Start, End]. It is used both for the
// window of data held by a Series (the DataWindow) and for the window
// currently visible in the charts (the ViewWindow).
type TimeRange struct {
	Start, End time.Time
}

// NewTimeRange returns a validated range.
func NewTimeRange(start, end time.Time) (TimeRange, error) {
	if end.Before(start) {
		return TimeRange{}, &InvalidRangeError{Start: start, End: end}
	}
	return TimeRange{Start: start, End: end}, nil
}

// Width returns End - Start.
func (r TimeRange) Width() (time.Duration, error) {
	if r.End.Before(r.Start) {
		return 0, &InvalidRangeError{Start: r.Start, End: r.End}
	}
	return r.End.Sub(r.Start), nil
}

// Contains reports whether t is within the range, ends included.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

func (r TimeRange) Overlaps(other TimeRange) bool {
	return !r.Start.After(other.End) && !other.Start.After(r.End)
}

// Shift moves both ends by d, width is unchanged.
func (r TimeRange) Shift(d time.Duration) TimeRange {
	return TimeRange{Start: r.Start.Add(d), End: r.End.Add(d)}
}

func (r TimeRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s]", r.Start.UTC().Format(time.RFC3339), r.End.UTC().Format(time.RFC3339))
}
