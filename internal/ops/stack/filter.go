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

package stack

import (
	"runtime/debug"

	"github.com/mlnoga/framereduce/internal/frame"
	"github.com/mlnoga/framereduce/internal/ops"
)

// A batch algorithm which buffers all frames into a stack, and reduces them with
// a center method and optional sigma clipping when the result is requested
type StackFilter struct {
	Method    CenterMethod
	Cutoff    float32 // <=0 disables clipping
	Quantiles *Band   // only used with CenterQuantiles

	c        *ops.Context
	capacity int
	block    []float32
	width    int
	height   int
	frames   [][]float32
}

var _ Algorithm = (*StackFilter)(nil) // Compile time assertion: type implements the interface

func NewStackFilter(method CenterMethod, cutoff float32, quantiles *Band) *StackFilter {
	return &StackFilter{Method: method, Cutoff: cutoff, Quantiles: quantiles}
}

func (s *StackFilter) Name() string { return string(s.Method) }

func (s *StackFilter) Incremental() bool { return false }

func (s *StackFilter) Parameters() Parameters {
	p := Parameters{}
	if s.Cutoff > 0 {
		cutoff := s.Cutoff
		p.Cutoff = &cutoff
	}
	// a given band is reported even if the method does not use it
	if s.Quantiles != nil {
		b := *s.Quantiles
		p.Quantiles = &b
	} else if s.Method == CenterQuantiles {
		b := DefaultBand
		p.Quantiles = &b
	}
	return p
}

func (s *StackFilter) Init(c *ops.Context, maxFrames int) error {
	if _, ok := centerFuncs[s.Method]; !ok && s.Method != CenterQuantiles {
		return ops.ConfigErrorf("cannot understand center method '%s'", s.Method)
	}
	if s.Quantiles != nil {
		if err := s.Quantiles.Validate(); err != nil {
			return err
		}
	}
	if maxFrames < 0 {
		maxFrames = 0
	}
	s.c, s.capacity = c, maxFrames
	s.block, s.frames, s.width, s.height = nil, nil, 0, 0
	return nil
}

// Copies the frame into the stack. With a known capacity, the stack is allocated
// as one block on the first frame, else it grows frame by frame
func (s *StackFilter) Add(f *frame.Frame) error {
	if s.frames == nil {
		s.width, s.height = f.Width, f.Height
		s.frames = make([][]float32, 0, s.capacity)
		if s.capacity > 0 {
			mb := int64(s.capacity) * int64(f.Pixels()) * 4 / 1024 / 1024
			if s.c != nil && s.c.StackMemoryMB > 0 && mb > int64(s.c.StackMemoryMB) {
				s.c.Entry().Warnf("Stack of %d frames %s needs %d MB, above the stack memory budget of %d MB",
					s.capacity, f.DimensionsToString(), mb, s.c.StackMemoryMB)
			}
			s.block = make([]float32, s.capacity*f.Pixels())
		}
	} else if f.Width != s.width || f.Height != s.height {
		return ops.ConfigErrorf("%d: frame dimensions %s differ from %dx%d",
			f.ID, f.DimensionsToString(), s.width, s.height)
	}

	var dst []float32
	if s.capacity > 0 {
		n := len(s.frames)
		if n >= s.capacity {
			return ops.ConfigErrorf("%d: stack capacity of %d frames exceeded", f.ID, s.capacity)
		}
		dst = s.block[n*f.Pixels() : (n+1)*f.Pixels()]
	} else {
		dst = make([]float32, f.Pixels())
	}
	copy(dst, f.Data)
	s.frames = append(s.frames, dst)
	return nil
}

// Reduces the frames added so far. Releases the stack afterwards
func (s *StackFilter) Result() (*frame.Frame, error) {
	if len(s.frames) == 0 {
		return nil, ops.ErrNoData
	}
	st := &Stack{Width: s.width, Height: s.height, Frames: s.frames}
	res, err := Reduce(st, s.Method, s.Cutoff, s.Quantiles, s.c)
	s.block, s.frames = nil, nil
	debug.FreeOSMemory()
	return res, err
}

// Number of frames buffered so far
func (s *StackFilter) Count() int { return len(s.frames) }
