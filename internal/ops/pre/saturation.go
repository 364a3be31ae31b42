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

package pre

import (
	"fmt"
	"math"

	"github.com/mlnoga/framereduce/internal/frame"
	"github.com/mlnoga/framereduce/internal/qsort"
)

// How saturated pixels are treated
type SaturationPolicy string

const (
	PolicyMedian SaturationPolicy = "median" // replace with median of valid 3x3 neighbors
	PolicyClamp  SaturationPolicy = "clamp"  // clamp into the valid range
)

// Saturated pixel removal settings. Active if a threshold or an explicit bound is set
type Saturation struct {
	Threshold float32          `json:"threshold" yaml:"threshold"` // pixels above (1-Threshold)*max are saturated, 0=off
	Min       *float32         `json:"min"       yaml:"min"`       // pixels below this are invalid, nil=off
	Max       *float32         `json:"max"       yaml:"max"`       // pixels above this are saturated, nil=off
	Policy    SaturationPolicy `json:"policy"    yaml:"policy"`
}

func (s *Saturation) Active() bool {
	return s != nil && (s.Threshold > 0 || s.Min != nil || s.Max != nil)
}

func (s *Saturation) Validate() error {
	if s == nil {
		return nil
	}
	if s.Policy != "" && s.Policy != PolicyMedian && s.Policy != PolicyClamp {
		return fmt.Errorf("unknown saturation policy '%s'", s.Policy)
	}
	if s.Threshold < 0 || s.Threshold >= 1 {
		return fmt.Errorf("saturation threshold %g outside [0,1)", s.Threshold)
	}
	if s.Min != nil && s.Max != nil && *s.Min > *s.Max {
		return fmt.Errorf("saturation min %g above max %g", *s.Min, *s.Max)
	}
	return nil
}

// Returns the valid value range for the given frame
func (s *Saturation) bounds(f *frame.Frame) (low, high float32) {
	low, high = float32(-math.MaxFloat32), float32(math.MaxFloat32)
	if s.Min != nil {
		low = *s.Min
	}
	if s.Threshold > 0 {
		_, max := f.MinMax()
		high = (1 - s.Threshold) * max
	}
	if s.Max != nil && *s.Max < high {
		high = *s.Max
	}
	return low, high
}

// Removes saturated pixels from the frame in place, and returns their number
func (s *Saturation) Apply(f *frame.Frame) int {
	if !s.Active() {
		return 0
	}
	low, high := s.bounds(f)

	if s.Policy == PolicyClamp {
		n := 0
		for i, d := range f.Data {
			if d < low {
				f.Data[i] = low
				n++
			} else if d > high {
				f.Data[i] = high
				n++
			}
		}
		return n
	}

	var bad []int
	for i, d := range f.Data {
		if d < low || d > high {
			bad = append(bad, i)
		}
	}
	if len(bad) == 0 {
		return 0
	}
	MedianFilterSparse(f, bad, low, high)
	return len(bad)
}

// Replaces the pixels at the given indices with the median of the valid pixels
// in their 3x3 neighborhood. Pixels without valid neighbors are set to the nearest bound.
// Replacements are computed from the original values and written afterwards
func MedianFilterSparse(f *frame.Frame, indices []int, low, high float32) {
	buffer := make([]float32, 0, 9)
	replacements := make([]float32, len(indices))
	for n, i := range indices {
		x, y := i%f.Width, i/f.Width
		buffer = buffer[:0]
		for yo := -1; yo <= 1; yo++ {
			for xo := -1; xo <= 1; xo++ {
				nx, ny := x+xo, y+yo
				if (xo == 0 && yo == 0) || nx < 0 || ny < 0 || nx >= f.Width || ny >= f.Height {
					continue
				}
				d := f.Data[ny*f.Width+nx]
				if d >= low && d <= high {
					buffer = append(buffer, d)
				}
			}
		}
		if len(buffer) > 0 {
			replacements[n] = qsort.QSelectMedianFloat32(buffer)
		} else if f.Data[i] < low {
			replacements[n] = low
		} else {
			replacements[n] = high
		}
	}
	for n, i := range indices {
		f.Data[i] = replacements[n]
	}
}
