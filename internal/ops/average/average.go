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

package average

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mlnoga/framereduce/internal/frame"
	"github.com/mlnoga/framereduce/internal/ops"
	"github.com/mlnoga/framereduce/internal/ops/pre"
	"github.com/mlnoga/framereduce/internal/ops/stack"
	"github.com/mlnoga/framereduce/internal/sink"
	"github.com/mlnoga/framereduce/internal/source"
)

// Identifies an algorithm added to an Average, in order of addition
type AlgorithmID int

// The outcome of one reduction pass
type Result struct {
	ID          AlgorithmID      `json:"id"`
	RunID       string           `json:"run"`
	Method      string           `json:"method"`
	Parameters  stack.Parameters `json:"parameters"`
	Frame       *frame.Frame     `json:"-"`
	NumSources  int              `json:"numSources"`
	NumFrames   int              `json:"numFrames"`   // frames offered to the algorithm
	NumAccepted int              `json:"numAccepted"` // frames not skipped by the correction
	FileName    string           `json:"fileName,omitempty"`
}

// Results by algorithm
type Results map[AlgorithmID]*Result

// Cutoff used when averaging dark and flat frames
const MasterCutoff = 4

// Reduces a set of frame sources with one or more algorithms, after per-frame correction.
// Each algorithm runs its own pass over all frames
type Average struct {
	c                   *ops.Context
	images              []source.Source
	numFrames           int
	dark                *frame.Frame
	rawFlat             *frame.Frame
	correctFlatFromDark bool
	monitorKey          string
	saturation          *pre.Saturation
	writer              sink.Sink
	algorithms          []stack.Algorithm
}

func NewAverage(c *ops.Context) *Average {
	return &Average{c: c}
}

func (a *Average) SetImages(images []source.Source) {
	a.images = images
	a.numFrames = source.CountFrames(images)
}

// Total number of frames across all images
func (a *Average) NumFrames() int { return a.numFrames }

func (a *Average) Images() []source.Source { return a.images }

// Sets the dark from the mean of all frames of the given sources, clipped at MasterCutoff. Nil clears the dark
func (a *Average) SetDark(darks []source.Source) (err error) {
	a.dark, err = a.master("dark", -1, darks)
	return err
}

// Sets the raw flat from the mean of all frames of the given sources, clipped at MasterCutoff. Nil clears the flat
func (a *Average) SetFlat(flats []source.Source) (err error) {
	a.rawFlat, err = a.master("flat", -2, flats)
	return err
}

func (a *Average) master(kind string, id int, srcs []source.Source) (*frame.Frame, error) {
	if len(srcs) == 0 {
		return nil, nil
	}
	frames, err := source.ReadAll(srcs)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%s: %w", kind, ops.ErrNoData)
	}
	a.c.Entry().Infof("Averaging %d %s frames", len(frames), kind)
	f, err := stack.ReduceFrames(frames, stack.CenterMean, MasterCutoff, nil, a.c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	f.ID, f.Name = id, kind
	return f, nil
}

func (a *Average) Dark() *frame.Frame { return a.dark }

func (a *Average) SetCorrectFlatFromDark(correct bool) { a.correctFlatFromDark = correct }

func (a *Average) SetMonitorKey(key string) { a.monitorKey = key }

func (a *Average) SetPixelFilter(s *pre.Saturation) { a.saturation = s }

func (a *Average) SetWriter(w sink.Sink) { a.writer = w }

// Adds an algorithm, and returns its ID for looking up the result
func (a *Average) AddAlgorithm(alg stack.Algorithm) AlgorithmID {
	a.algorithms = append(a.algorithms, alg)
	return AlgorithmID(len(a.algorithms) - 1)
}

// Runs one pass per algorithm and returns the results. Results are forwarded to the writer,
// if set. The writer is closed at the end, also on errors
func (a *Average) Process() (res Results, err error) {
	flat, err := pre.PrepareFlat(a.rawFlat, a.dark, a.correctFlatFromDark, a.c)
	if err != nil {
		return nil, err
	}
	if err = a.saturation.Validate(); err != nil {
		return nil, ops.ConfigErrorf("%s", err.Error())
	}
	corr := &pre.Correction{Saturation: a.saturation, Dark: a.dark, Flat: flat, MonitorKey: a.monitorKey}

	if a.writer != nil {
		defer func() {
			if cerr := a.writer.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}()
		if err = a.writer.WriteHeader(source.Names(a.images), a.numFrames); err != nil {
			return nil, err
		}
	}

	res = Results{}
	for i, alg := range a.algorithms {
		id := AlgorithmID(i)
		r, err := a.reduce(id, alg, corr)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", alg.Name(), err)
		}
		if a.writer != nil {
			if r.FileName, err = a.writer.WriteResult(r.Method, r.Parameters.Map(), r.Frame); err != nil {
				return nil, err
			}
		}
		res[id] = r
	}
	return res, nil
}

// Runs a full pass of one algorithm over all frames
func (a *Average) reduce(id AlgorithmID, alg stack.Algorithm, corr *pre.Correction) (*Result, error) {
	log := a.c.Entry().WithField("method", alg.Name())
	log.Infof("Reducing %d frames from %d sources with %s", a.numFrames, len(a.images), corr)
	if err := alg.Init(a.c, a.numFrames); err != nil {
		return nil, err
	}

	frameID, accepted := 0, 0
	for _, src := range a.images {
		for i := 0; i < src.NumFrames(); i++ {
			f, err := src.Frame(i)
			if err != nil {
				return nil, err
			}
			f.ID = frameID
			frameID++
			if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
				min, max := f.MinMax()
				log.WithField("frame", f.Name).Debugf("%d: Intensity range is %g --> %g", f.ID, min, max)
			}

			corrected, err := corr.Apply(f, f.Header, a.c)
			if err != nil {
				return nil, err
			}
			if corrected == nil {
				continue
			}
			if err = alg.Add(corrected); err != nil {
				return nil, err
			}
			accepted++
		}
	}

	f, err := alg.Result()
	if err != nil {
		return nil, err
	}
	min, max := f.MinMax()
	log.Debugf("Intensity range in merged dataset: %g --> %g", min, max)
	log.Infof("Reduced %d of %d frames", accepted, a.numFrames)

	return &Result{
		ID:          id,
		RunID:       a.c.RunID,
		Method:      alg.Name(),
		Parameters:  alg.Parameters(),
		Frame:       f,
		NumSources:  len(a.images),
		NumFrames:   a.numFrames,
		NumAccepted: accepted,
	}, nil
}
