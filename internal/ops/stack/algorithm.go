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
	"fmt"
	"sort"
	"strings"

	"github.com/mlnoga/framereduce/internal/frame"
	"github.com/mlnoga/framereduce/internal/ops"
)

// An algorithm reducing a sequence of frames into one result frame.
// Call Init once, then Add for each frame, then Result
type Algorithm interface {
	Name() string
	// Incremental algorithms keep constant state, others buffer all frames until Result
	Incremental() bool
	// Prepares for a run over up to maxFrames frames. 0 means unknown
	Init(c *ops.Context, maxFrames int) error
	Add(f *frame.Frame) error
	Result() (*frame.Frame, error)
	Parameters() Parameters
}

// Creates a fresh algorithm instance
type Factory func() Algorithm

// Parameters of an algorithm, recorded in result provenance. Nil means not applicable
type Parameters struct {
	Cutoff    *float32 `json:"cutoff,omitempty"    yaml:"cutoff,omitempty"`
	Quantiles *Band    `json:"quantiles,omitempty" yaml:"quantiles,omitempty"`
}

// Returns the parameters as strings, with "None" for unset values
func (p Parameters) Map() map[string]string {
	m := map[string]string{"cutoff": "None", "quantiles": "None"}
	if p.Cutoff != nil {
		m["cutoff"] = fmt.Sprintf("%g", *p.Cutoff)
	}
	if p.Quantiles != nil {
		m["quantiles"] = p.Quantiles.String()
	}
	return m
}

// Streaming accumulator kinds
const (
	AccumulateMax  = "max"
	AccumulateMin  = "min"
	AccumulateSum  = "sum"
	AccumulateMean = "mean"
)

// Returns the factories for all streaming accumulators, keyed by name
func DefaultFactories() map[string]Factory {
	return map[string]Factory{
		AccumulateMax:  func() Algorithm { return NewMax() },
		AccumulateMin:  func() Algorithm { return NewMin() },
		AccumulateSum:  func() Algorithm { return NewSum() },
		AccumulateMean: func() Algorithm { return NewMean() },
	}
}

// Names of the given factories in sorted order
func FactoryNames(fs map[string]Factory) []string {
	names := make([]string, 0, len(fs))
	for n := range fs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Looks up a factory by name, case-insensitive
func LookupFactory(fs map[string]Factory, name string) (Factory, error) {
	if f, ok := fs[strings.ToLower(name)]; ok {
		return f, nil
	}
	return nil, ops.ConfigErrorf("unknown algorithm '%s', available: %s", name, strings.Join(FactoryNames(fs), ", "))
}

// A streaming accumulator holding one running frame. Combine merges a new value
// into the running value
type Accumulator struct {
	name    string
	combine func(acc, x float32) float32
	divide  bool // divide by count at the end, for the mean

	c     *ops.Context
	acc   *frame.Frame
	count int
}

var _ Algorithm = (*Accumulator)(nil) // Compile time assertion: type implements the interface

func NewMax() *Accumulator {
	return &Accumulator{name: AccumulateMax, combine: func(a, x float32) float32 {
		if x > a || x != x {
			return x
		}
		return a
	}}
}

func NewMin() *Accumulator {
	return &Accumulator{name: AccumulateMin, combine: func(a, x float32) float32 {
		if x < a || x != x {
			return x
		}
		return a
	}}
}

func NewSum() *Accumulator {
	return &Accumulator{name: AccumulateSum, combine: func(a, x float32) float32 { return a + x }}
}

func NewMean() *Accumulator {
	a := NewSum()
	a.name, a.divide = AccumulateMean, true
	return a
}

func (a *Accumulator) Name() string { return a.name }

func (a *Accumulator) Incremental() bool { return true }

func (a *Accumulator) Parameters() Parameters { return Parameters{} }

func (a *Accumulator) Init(c *ops.Context, maxFrames int) error {
	a.c, a.acc, a.count = c, nil, 0
	return nil
}

// Merges the frame into the running result. The frame is not retained
func (a *Accumulator) Add(f *frame.Frame) error {
	if a.acc == nil {
		a.acc = f.Clone()
		a.acc.ID, a.acc.Name, a.acc.Header = 0, "", frame.Header{}
		a.count = 1
		return nil
	}
	if !frame.SameShape(a.acc, f) {
		return ops.ConfigErrorf("%d: frame dimensions %s differ from %s",
			f.ID, f.DimensionsToString(), a.acc.DimensionsToString())
	}
	for i, x := range f.Data {
		a.acc.Data[i] = a.combine(a.acc.Data[i], x)
	}
	a.count++
	return nil
}

func (a *Accumulator) Result() (*frame.Frame, error) {
	if a.acc == nil {
		return nil, ops.ErrNoData
	}
	res := a.acc.Clone()
	if a.divide {
		n := float32(a.count)
		for i := range res.Data {
			res.Data[i] /= n
		}
	}
	return res, nil
}

// Number of frames merged so far
func (a *Accumulator) Count() int { return a.count }
