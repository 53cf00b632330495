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
	"errors"
	"reflect"
	"testing"
	"time"
)

var epoch = time.Unix(0, 0)

func at(n int) time.Time {
	return epoch.Add(time.Duration(n) * time.Minute)
}

func pts(tv ...int) []Point {
	result := make([]Point, 0, len(tv)/2)
	for i := 0; i+1 < len(tv); i += 2 {
		result = append(result, Point{T: at(tv[i]), Value: float64(tv[i+1])})
	}
	return result
}

func Test_Merge_empty(t *testing.T) {
	s := pts(10, 1, 20, 2, 30, 3)

	got, err := Merge(s, nil)
	if err != nil || !reflect.DeepEqual(got, s) {
		t.Errorf("Merge(s, nil) = %v, %v; want %v", got, err, s)
	}
	got, err = Merge(nil, s)
	if err != nil || !reflect.DeepEqual(got, s) {
		t.Errorf("Merge(nil, s) = %v, %v; want %v", got, err, s)
	}
	got, err = Merge(nil, nil)
	if err != nil || len(got) != 0 {
		t.Errorf("Merge(nil, nil) = %v, %v", got, err)
	}
}

func Test_Merge_newerWins(t *testing.T) {
	older := pts(10, 1, 20, 2, 30, 3)
	newer := pts(20, 99, 40, 4)

	got, err := Merge(older, newer)
	if err != nil {
		t.Fatal(err)
	}
	want := pts(10, 1, 20, 99, 40, 4)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Merge() = %v; want %v", got, want)
	}
	// inputs untouched
	if len(older) != 3 || older[2].Value != 3 {
		t.Errorf("Merge modified older: %v", older)
	}
}

func Test_Merge_ordering(t *testing.T) {
	cases := []struct {
		older, newer []Point
	}{
		{pts(1, 1, 2, 2, 3, 3), pts(4, 4, 5, 5)},           // disjoint
		{pts(1, 1, 2, 2, 3, 3), pts(3, 30, 4, 4)},          // touching
		{pts(1, 1, 2, 2, 3, 3), pts(0, 0, 1, 10)},          // newer entirely before
		{pts(1, 1, 5, 5, 9, 9), pts(2, 2, 3, 3, 10, 10)},   // interleaved
		{pts(1, 1), pts(1, 2)},                             // same single timestamp
		{pts(-5, 1, 0, 2), pts(-10, 1, -5, 2, 0, 3, 5, 4)}, // newer covers older
	}
	for i, c := range cases {
		got, err := Merge(c.older, c.newer)
		if err != nil {
			t.Errorf("case %d: unexpected error: %v", i, err)
			continue
		}
		for j := 1; j < len(got); j++ {
			if !got[j].T.After(got[j-1].T) {
				t.Errorf("case %d: result not strictly increasing at %d: %v", i, j, got)
			}
		}
		if len(got) < len(c.newer) {
			t.Errorf("case %d: newer points lost: %v", i, got)
		}
	}
}

func Test_Merge_invariantViolation(t *testing.T) {
	older := pts(10, 1, 20, 2)
	bad := pts(40, 4, 30, 3) // out of order source data

	got, err := Merge(older, bad)
	if err == nil {
		t.Fatalf("Merge() with unordered input returned no error: %v", got)
	}
	if !errors.Is(err, ErrMergeInvariant) {
		t.Errorf("errors.Is(err, ErrMergeInvariant) == false: %v", err)
	}
	var mie *MergeInvariantError
	if !errors.As(err, &mie) || mie.Index != 3 {
		t.Errorf("expected *MergeInvariantError at index 3, got %v", err)
	}
	if got != nil {
		t.Errorf("got %v, expected nil result on error", got)
	}

	if _, err := Merge(nil, pts(1, 1, 1, 2)); err == nil {
		t.Errorf("duplicate timestamps accepted")
	}
}
