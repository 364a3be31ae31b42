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

package source

import (
	"fmt"

	"github.com/mlnoga/framereduce/internal/frame"
	"github.com/mlnoga/framereduce/internal/ops"
)

// A source of one or more same-sized frames, e.g. a file or an in-memory stack
type Source interface {
	Name() string
	Header() frame.Header
	NumFrames() int
	// Returns frame i, with header and name filled in. Callers must not modify the data
	Frame(i int) (*frame.Frame, error)
}

// Frames held in memory
type Memory struct {
	name   string
	header frame.Header
	frames []*frame.Frame
}

var _ Source = (*Memory)(nil) // Compile time assertion: type implements the interface

// Creates a source over the given frames. Frames keep their own headers if set,
// otherwise they inherit the source header
func NewMemory(name string, header frame.Header, frames ...*frame.Frame) *Memory {
	if header == nil {
		header = frame.Header{}
	}
	return &Memory{name: name, header: header, frames: frames}
}

func (m *Memory) Name() string         { return m.name }
func (m *Memory) Header() frame.Header { return m.header }
func (m *Memory) NumFrames() int       { return len(m.frames) }

func (m *Memory) Frame(i int) (*frame.Frame, error) {
	if i < 0 || i >= len(m.frames) {
		return nil, fmt.Errorf("%s: frame %d out of range, source has %d", m.name, i, len(m.frames))
	}
	f := *m.frames[i] // shallow copy, so name and header can be set without touching the original
	if len(f.Header) == 0 {
		f.Header = m.header
	}
	f.Name = frameName(m.name, i, len(m.frames))
	return &f, nil
}

// Creates a source from a 3D array indexed by frame, row and column. All frames must
// have the same number of rows, and all rows the same length
func NewStack3D(name string, header frame.Header, data [][][]float32) (*Memory, error) {
	frames := make([]*frame.Frame, len(data))
	for i, rows := range data {
		f, err := frame.FromRows(rows)
		if err != nil {
			return nil, ops.ConfigErrorf("%s: frame %d: %s", name, i, err.Error())
		}
		if i > 0 && !frame.SameShape(f, frames[0]) {
			return nil, ops.ConfigErrorf("%s: frame %d dimensions %s differ from %s",
				name, i, f.DimensionsToString(), frames[0].DimensionsToString())
		}
		frames[i] = f
	}
	return NewMemory(name, header, frames...), nil
}

// Names frame i of a source for log output. Single-frame sources keep the source name
func frameName(name string, i, n int) string {
	if n == 1 {
		return name
	}
	return fmt.Sprintf("%s#%d", name, i)
}

// Names of the given sources
func Names(srcs []Source) []string {
	names := make([]string, len(srcs))
	for i, s := range srcs {
		names[i] = s.Name()
	}
	return names
}

// Total number of frames across the given sources
func CountFrames(srcs []Source) int {
	n := 0
	for _, s := range srcs {
		n += s.NumFrames()
	}
	return n
}

// Reads all frames of all given sources
func ReadAll(srcs []Source) ([]*frame.Frame, error) {
	frames := make([]*frame.Frame, 0, CountFrames(srcs))
	for _, s := range srcs {
		for i := 0; i < s.NumFrames(); i++ {
			f, err := s.Frame(i)
			if err != nil {
				return nil, err
			}
			frames = append(frames, f)
		}
	}
	return frames, nil
}
