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
	"testing"

	"gonum.org/v1/gonum/floats"
)

func TestMeanStdDev(t *testing.T) {
	epsilon := 1e-5
	tcs := []struct {
		In     []float32
		Mean   float32
		StdDev float32
	}{
		{[]float32{1, 3, 5}, 3, float32(math.Sqrt(8.0 / 3.0))},
		{[]float32{2, 2, 2, 2}, 2, 0},
		{[]float32{7}, 7, 0},
		{[]float32{-1, 1}, 0, 1},
	}
	scratch := make([]float64, 8)
	for _, tc := range tcs {
		mean, stdDev := MeanStdDev(tc.In, scratch)
		if math.Abs(float64(mean-tc.Mean)) > epsilon {
			t.Errorf("mean(%v)=%f; want %f", tc.In, mean, tc.Mean)
		}
		if math.Abs(float64(stdDev-tc.StdDev)) > epsilon {
			t.Errorf("stdDev(%v)=%f; want %f", tc.In, stdDev, tc.StdDev)
		}
	}
}

func TestSumMinMaxMean(t *testing.T) {
	xs := []float32{4, -2, 9, 1}
	xs64 := []float64{4, -2, 9, 1}
	if s := Sum(xs); float64(s) != floats.Sum(xs64) {
		t.Errorf("sum=%f; want %f", s, floats.Sum(xs64))
	}
	if m := Min(xs); float64(m) != floats.Min(xs64) {
		t.Errorf("min=%f; want %f", m, floats.Min(xs64))
	}
	if m := Max(xs); float64(m) != floats.Max(xs64) {
		t.Errorf("max=%f; want %f", m, floats.Max(xs64))
	}
	if m := Mean(xs); m != 3 {
		t.Errorf("mean=%f; want 3", m)
	}
}

func TestVariance(t *testing.T) {
	scratch := make([]float64, 4)
	if v := Variance([]float32{1, 3, 5}, scratch); math.Abs(float64(v)-8.0/3.0) > 1e-5 {
		t.Errorf("variance=%f; want %f", v, 8.0/3.0)
	}
}

func TestMeanOrNaN(t *testing.T) {
	if m := MeanOrNaN(nil); !math.IsNaN(float64(m)) {
		t.Errorf("mean of empty=%f; want NaN", m)
	}
}
