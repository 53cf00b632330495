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
	"fmt"
	"time"
)

// ErrMergeInvariant is matched (via errors.Is) by every
// MergeInvariantError.
var ErrMergeInvariant = errors.New("merge invariant violated")

// MergeInvariantError means a merge would have produced points that
// are not strictly increasing in time. This happens only when a data
// source returns unordered data; the offending fetch must be discarded.
type MergeInvariantError struct {
	Index int // position of the first offending point in the result
	Prev  time.Time
	Next  time.Time
}

func (e *MergeInvariantError) Error() string {
	return fmt.Sprintf("%v: point %d at %v does not follow %v", ErrMergeInvariant, e.Index, e.Next, e.Prev)
}

func (e *MergeInvariantError) Is(target error) bool {
	return target == ErrMergeInvariant
}

// Merge combines two chronologically ordered point slices. Points at
// the tail of older with a timestamp at or after the first point of
// newer are dropped, i.e. newer wins on overlap. To append fetched data
// call Merge(existing, fetched), to prepend call Merge(fetched, existing).
//
// Neither argument is modified. The result is verified to be strictly
// increasing in time, otherwise a *MergeInvariantError is returned
// along with a nil slice.
func Merge(older, newer []Point) ([]Point, error) {
	if len(older) == 0 {
		if err := checkOrder(newer); err != nil {
			return nil, err
		}
		return newer, nil
	}
	if len(newer) == 0 {
		if err := checkOrder(older); err != nil {
			return nil, err
		}
		return older, nil
	}

	first := newer[0].T
	keep := len(older)
	for keep > 0 && !older[keep-1].T.Before(first) {
		keep--
	}

	result := make([]Point, 0, keep+len(newer))
	result = append(result, older[:keep]...)
	result = append(result, newer...)

	if err := checkOrder(result); err != nil {
		return nil, err
	}
	return result, nil
}

func checkOrder(points []Point) error {
	for i := 1; i < len(points); i++ {
		if !points[i].T.After(points[i-1].T) {
			return &MergeInvariantError{Index: i, Prev: points[i-1].T, Next: points[i].T}
		}
	}
	return nil
}
