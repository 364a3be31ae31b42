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

package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Pointwise statistics over the values gathered for a single pixel across frames.
// All functions expect at least one value.

func Sum(xs []float32) float32 {
	sum := float32(0)
	for _, x := range xs {
		sum += x
	}
	return sum
}

func Mean(xs []float32) float32 {
	return Sum(xs) / float32(len(xs))
}

// Minimum of xs. NaN if any value is NaN
func Min(xs []float32) float32 {
	min := xs[0]
	for _, x := range xs[1:] {
		if x < min || x != x {
			min = x
		}
	}
	return min
}

// Maximum of xs. NaN if any value is NaN
func Max(xs []float32) float32 {
	max := xs[0]
	for _, x := range xs[1:] {
		if x > max || x != x {
			max = x
		}
	}
	return max
}

// Calculates mean and population standard deviation (normalized by N, not N-1).
// Uses the given scratch buffer of at least len(xs) to widen to float64
func MeanStdDev(xs []float32, scratch []float64) (mean, stdDev float32) {
	xs64 := scratch[:len(xs)]
	for i, x := range xs {
		xs64[i] = float64(x)
	}
	m, s := stat.PopMeanStdDev(xs64, nil)
	return float32(m), float32(s)
}

// Population variance, see MeanStdDev
func Variance(xs []float32, scratch []float64) float32 {
	xs64 := scratch[:len(xs)]
	for i, x := range xs {
		xs64[i] = float64(x)
	}
	_, v := stat.PopMeanVariance(xs64, nil)
	return float32(v)
}

// Mean of xs, or NaN for an empty slice
func MeanOrNaN(xs []float32) float32 {
	if len(xs) == 0 {
		return float32(math.NaN())
	}
	return Mean(xs)
}
