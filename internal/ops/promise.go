// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package ops

import (
	"errors"
	"fmt"
)

// A promise for a value of type T. Returns a materialized value, or an error
type Promise[T any] func() (T, error)

// Materializes all promises with given concurrency limit. Results keep the order of
// the inputs. Errors from all failed promises are joined into one
func MaterializeAll[T any](ins []Promise[T], maxThreads int) (outs []T, err error) {
	if len(ins) == 0 {
		return nil, nil
	}
	if maxThreads < 1 {
		maxThreads = 1
	}
	outs = make([]T, len(ins))
	errs := make([]error, len(ins))
	limiter := make(chan bool, maxThreads)
	for i, in := range ins {
		limiter <- true
		go func(i int, theIn Promise[T]) {
			defer func() { <-limiter }()
			outs[i], errs[i] = theIn() // materialize the promise
		}(i, in)
	}
	for i := 0; i < cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}
	for i, e := range errs {
		if e != nil {
			err = errors.Join(err, fmt.Errorf("%d: %w", i, e))
		}
	}
	if err != nil {
		return nil, err
	}
	return outs, nil
}
