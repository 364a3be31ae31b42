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

package qsort

import (
	"github.com/valyala/fastrand"
)

// Sort an array of float32 in ascending order.
// Array must not contain IEEE NaN
func QSortFloat32(a []float32) {
	for len(a) > 1 {
		index := QPartitionFloat32(a)
		// recurse into the smaller half, loop on the larger one
		if index+1 < len(a)-index-1 {
			QSortFloat32(a[:index+1])
			a = a[index+1:]
		} else {
			QSortFloat32(a[index+1:])
			a = a[:index+1]
		}
	}
}

// Partitions an array of float32 with the middle pivot element, and returns the pivot index.
// Values less than the pivot are moved left of the pivot, those greater are moved right.
// Array must not contain IEEE NaN
func QPartitionFloat32(a []float32) int {
	left, right := 0, len(a)-1
	mid := (left + right) >> 1
	pivot := a[mid]
	l := left - 1
	r := right + 1
	for {
		for {
			l++
			if a[l] >= pivot {
				break
			}
		}
		for {
			r--
			if a[r] <= pivot {
				break
			}
		}
		if l >= r {
			return r
		}
		a[l], a[r] = a[r], a[l]
	}
}

// Select median of an array of float32. Partially reorders the array.
// For even lengths, returns the mean of the two middle elements.
// Array must not contain IEEE NaN
func QSelectMedianFloat32(a []float32) float32 {
	n := len(a)
	upper := QSelectFloat32(a, (n>>1)+1)
	if n&1 != 0 {
		return upper
	}
	// after selection, all elements left of n/2 are <= upper. The lower middle is their max
	lower := a[0]
	for _, v := range a[1 : n>>1] {
		if v > lower {
			lower = v
		}
	}
	return 0.5 * (lower + upper)
}

// Select kth lowest element from an array of float32, with k counted from 1.
// Partially reorders the array, such that a[k-1] holds the result, smaller or equal
// values are left of it and greater or equal values right of it.
// Array must not contain IEEE NaN
func QSelectFloat32(a []float32, k int) float32 {
	rng := fastrand.RNG{}
	left, right := 0, len(a)-1
	for left < right {
		// random pivot, moved to the middle of the range
		mid := (left + right) >> 1
		p := left + int(rng.Uint32n(uint32(right-left+1)))
		a[mid], a[p] = a[p], a[mid]

		index := left + QPartitionFloat32(a[left:right+1])

		offset := index - left + 1
		if k <= offset {
			right = index
		} else {
			left = index + 1
			k = k - offset
		}
	}
	return a[left]
}

// Moves all IEEE NaN values to the end of the array, keeping no particular order.
// Returns the number of non-NaN values, which are then stored in a[:n]
func PartitionNaN(a []float32) (n int) {
	for i, v := range a {
		if v == v {
			a[n], a[i] = v, a[n]
			n++
		}
	}
	return n
}
