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

package frame

import (
	"errors"
	"fmt"
	"math"
)

// A single 2D detector frame with float32 pixel values.
// Data is stored row by row, most quickly varying dimension first (i.e. X,Y)
type Frame struct {
	ID   int    // Sequential ID number, for log output. By convention, dark is -1 and flat is -2
	Name string // Original source name, if any, for log output

	Width  int
	Height int
	Data   []float32

	Header Header // Header keys and values of the originating source
}

// Frame header data. Values are kept as strings, interpretation is up to the caller
type Header map[string]string

// Header keys recording how float values were mapped to integer image formats,
// with min mapped to 0 and max to the largest integer value
const (
	KeyScaleMin = "scale_min"
	KeyScaleMax = "scale_max"
)

// Returns the value for the given key, and whether it was present
func (h Header) Get(key string) (string, bool) {
	if h == nil {
		return "", false
	}
	v, ok := h[key]
	return v, ok
}

// Returns a deep copy of the header. A nil header clones into an empty one
func (h Header) Clone() Header {
	res := make(Header, len(h))
	for k, v := range h {
		res[k] = v
	}
	return res
}

// Creates a frame with the given dimensions. Data is not copied, allocated if nil
func New(width, height int, data []float32) *Frame {
	if data == nil {
		data = make([]float32, width*height)
	}
	return &Frame{
		Width:  width,
		Height: height,
		Data:   data,
		Header: Header{},
	}
}

// Creates a frame from rows of values. All rows must have the same length
func FromRows(rows [][]float32) (*Frame, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.New("frame needs at least one row and one column")
	}
	width := len(rows[0])
	f := New(width, len(rows), nil)
	for y, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d columns, expected %d", y, len(row), width)
		}
		copy(f.Data[y*width:(y+1)*width], row)
	}
	return f, nil
}

// Returns the frame data as rows. Rows share the underlying data array
func (f *Frame) Rows() [][]float32 {
	rows := make([][]float32, f.Height)
	for y := range rows {
		rows[y] = f.Data[y*f.Width : (y+1)*f.Width]
	}
	return rows
}

// Returns a deep copy of the frame, with a new contiguous data array
func (f *Frame) Clone() *Frame {
	res := New(f.Width, f.Height, nil)
	copy(res.Data, f.Data)
	res.ID, res.Name, res.Header = f.ID, f.Name, f.Header.Clone()
	return res
}

// Number of pixels in the frame
func (f *Frame) Pixels() int { return f.Width * f.Height }

// Returns true if both frames have the same width and height
func SameShape(a, b *Frame) bool {
	return a.Width == b.Width && a.Height == b.Height
}

func (f *Frame) DimensionsToString() string {
	return fmt.Sprintf("%dx%d", f.Width, f.Height)
}

// Returns minimum and maximum pixel values, ignoring NaNs
func (f *Frame) MinMax() (min, max float32) {
	min, max = float32(math.MaxFloat32), float32(-math.MaxFloat32)
	for _, d := range f.Data {
		if d != d {
			continue
		}
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	return min, max
}
