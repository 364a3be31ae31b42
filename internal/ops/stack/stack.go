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
	"math"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mlnoga/framereduce/internal/frame"
	"github.com/mlnoga/framereduce/internal/ops"
	"github.com/mlnoga/framereduce/internal/qsort"
	"github.com/mlnoga/framereduce/internal/stats"
)

// Statistic used to center the stack, computed per pixel across all frames
type CenterMethod string

const (
	CenterMean      CenterMethod = "mean"
	CenterStd       CenterMethod = "std"
	CenterVar       CenterMethod = "var"
	CenterMin       CenterMethod = "min"
	CenterMax       CenterMethod = "max"
	CenterSum       CenterMethod = "sum"
	CenterMedian    CenterMethod = "median"
	CenterQuantiles CenterMethod = "quantiles"
)

// A per-pixel statistic over the values gathered across frames. May reorder gathered.
// Scratch has at least len(gathered) entries
type pixelFunc func(gathered []float32, scratch []float64) float32

var centerFuncs = map[CenterMethod]pixelFunc{
	CenterMean:   func(g []float32, _ []float64) float32 { return stats.Mean(g) },
	CenterStd:    func(g []float32, s []float64) float32 { _, sd := stats.MeanStdDev(g, s); return sd },
	CenterVar:    stats.Variance,
	CenterMin:    func(g []float32, _ []float64) float32 { return stats.Min(g) },
	CenterMax:    func(g []float32, _ []float64) float32 { return stats.Max(g) },
	CenterSum:    func(g []float32, _ []float64) float32 { return stats.Sum(g) },
	CenterMedian: medianOrNaN,
}

// Median of the gathered values, or NaN if any of them is NaN
func medianOrNaN(g []float32, _ []float64) float32 {
	if qsort.PartitionNaN(g) < len(g) {
		return float32(math.NaN())
	}
	return qsort.QSelectMedianFloat32(g)
}

// Parses a center method name. Names starting with "quantil" select the quantile band
func ParseCenterMethod(name string) (CenterMethod, error) {
	m := CenterMethod(name)
	if _, ok := centerFuncs[m]; ok {
		return m, nil
	}
	if strings.HasPrefix(name, "quantil") {
		return CenterQuantiles, nil
	}
	return "", ops.ConfigErrorf("cannot understand center method '%s'", name)
}

// A fractional range [Lo, Hi] of the sorted per-pixel values, with 0<=Lo<=Hi<=1
type Band struct {
	Lo float64 `json:"lo" yaml:"lo"`
	Hi float64 `json:"hi" yaml:"hi"`
}

func (b Band) Validate() error {
	if b.Lo < 0 || b.Lo > 1 || b.Hi < 0 || b.Hi > 1 {
		return ops.ConfigErrorf("quantile band %v outside [0,1]", b)
	}
	return nil
}

func (b Band) String() string { return fmt.Sprintf("(%g, %g)", b.Lo, b.Hi) }

// The default band if quantile centering is requested without one
var DefaultBand = Band{0.5, 0.5}

// A stack of same-sized frames, one data slice per frame
type Stack struct {
	Width  int
	Height int
	Frames [][]float32
}

// Creates a stack referencing the data of the given frames. All frames must have the same shape
func NewStackFromFrames(frames []*frame.Frame) (*Stack, error) {
	if len(frames) == 0 {
		return nil, ops.ErrNoData
	}
	st := &Stack{Width: frames[0].Width, Height: frames[0].Height, Frames: make([][]float32, len(frames))}
	for i, f := range frames {
		if !frame.SameShape(f, frames[0]) {
			return nil, ops.ConfigErrorf("frame %d dimensions %s differ from %s",
				i, f.DimensionsToString(), frames[0].DimensionsToString())
		}
		st.Frames[i] = f.Data
	}
	return st, nil
}

func (st *Stack) Len() int { return len(st.Frames) }

func (st *Stack) Pixels() int { return st.Width * st.Height }

// Reduces a list of frames to a single frame, see Reduce. A single frame is returned
// as a copy, regardless of method
func ReduceFrames(frames []*frame.Frame, method CenterMethod, cutoff float32, band *Band, c *ops.Context) (*frame.Frame, error) {
	if len(frames) == 1 {
		return frames[0].Clone(), nil
	}
	st, err := NewStackFromFrames(frames)
	if err != nil {
		return nil, err
	}
	return Reduce(st, method, cutoff, band, c)
}

// Reduces a stack of frames to a single frame. Computes a per-pixel center with the given
// method across all frames. Without cutoff (<=0), the center is the result. Otherwise,
// averages all values per pixel within cutoff standard deviations of the center, i.e.
// where |value-center|/stdDev <= cutoff. Band is only used for quantile centering.
func Reduce(st *Stack, method CenterMethod, cutoff float32, band *Band, c *ops.Context) (*frame.Frame, error) {
	n := st.Len()
	if n == 0 {
		return nil, ops.ErrNoData
	}

	var center pixelFunc
	if method == CenterQuantiles {
		b := DefaultBand
		if band != nil {
			b = *band
		}
		if err := b.Validate(); err != nil {
			return nil, err
		}
		c.Entry().Infof("Filtering data (quantiles: %s)", b)
		lower, upper := quantileRange(n, b, c)
		center = func(g []float32, _ []float64) float32 {
			// NaNs sort last
			qsort.QSortFloat32(g[:qsort.PartitionNaN(g)])
			return stats.MeanOrNaN(g[lower:upper])
		}
	} else if f, ok := centerFuncs[method]; ok {
		c.Entry().Infof("Filtering data (%s)", method)
		center = f
	} else {
		return nil, ops.ConfigErrorf("cannot understand center method '%s'", method)
	}

	res := frame.New(st.Width, st.Height, nil)
	numMaskedLock, numMasked := sync.Mutex{}, int64(0)
	forEachBatch(st.Pixels(), n, c.MaxThreads, func(lower, upper int) {
		masked := reduceBatch(st.Frames, center, cutoff, lower, upper, res.Data)
		if masked > 0 {
			numMaskedLock.Lock()
			numMasked += masked
			numMaskedLock.Unlock()
		}
	})

	if cutoff > 0 {
		c.Entry().WithFields(logrus.Fields{"method": method, "cutoff": cutoff}).
			Infof("Clipped %d of %d values (%.2f%%)", numMasked, int64(n)*int64(st.Pixels()),
				float32(numMasked)*100/(float32(n)*float32(st.Pixels())))
	}
	return res, nil
}

// Reduces pixels [lower, upper) of the stack into res, and returns the number of masked values
func reduceBatch(lightsData [][]float32, center pixelFunc, cutoff float32, lower, upper int, res []float32) (numMasked int64) {
	gathered := make([]float32, len(lightsData))
	scratch := make([]float64, len(lightsData))

	for i := lower; i < upper; i++ {
		// gather data for this pixel across all frames
		for li := range lightsData {
			gathered[li] = lightsData[li][i]
		}
		c := center(gathered, scratch)
		if cutoff <= 0 {
			res[i] = c
			continue
		}

		// gather again, as the center function may have reordered the values
		for li := range lightsData {
			gathered[li] = lightsData[li][i]
		}
		_, stdDev := stats.MeanStdDev(gathered, scratch)

		// sum up values within the cutoff, renormalize by the number of survivors
		sum, kept := float32(0), 0
		for _, g := range gathered {
			dev := float32(math.Abs(float64(g - c)))
			var mask bool
			if stdDev == 0 {
				mask = dev > 0 // division by zero yields +Inf for any nonzero deviation
			} else {
				mask = dev/stdDev > cutoff
			}
			if mask {
				numMasked++
			} else {
				sum += g
				kept++
			}
		}
		if kept < 1 {
			kept = 1
		}
		res[i] = sum / float32(kept)
	}
	return numMasked
}

// Returns the index range [lower, upper) of sorted values selected by the quantile band
// for n values. Widens empty ranges by one if possible, and logs a warning
func quantileRange(n int, b Band, c *ops.Context) (lower, upper int) {
	lo, hi := math.Min(b.Lo, b.Hi), math.Max(b.Lo, b.Hi)
	lower = int(math.Floor(lo * float64(n)))
	if lower < 0 {
		lower = 0
	}
	upper = int(math.Ceil(hi * float64(n)))
	if upper > n {
		upper = n
	}
	if upper == lower {
		if upper < n {
			upper++
		} else if lower > 0 {
			lower--
		} else {
			c.Entry().Warnf("Empty selection for quantiles %s, would keep points from %d to %d", b, lower, upper)
			return lower, upper
		}
		c.Entry().Warnf("Empty selection for quantiles %s, widened to points from %d to %d", b, lower, upper)
	}
	return lower, upper
}

// Splits the pixel range [0, numPixels) into batches and calls fn for each, running
// up to maxThreads batches in parallel. Batches are sized to about 8 MB of stack data,
// no fewer than 8*maxThreads
func forEachBatch(numPixels, numFrames, maxThreads int, fn func(lower, upper int)) {
	if maxThreads < 1 {
		maxThreads = 1
	}
	numBatches := 4 * numFrames * numPixels / (8192 * 1024)
	if numBatches < 8*maxThreads {
		numBatches = 8 * maxThreads
	}
	batchSize := (numPixels + numBatches - 1) / numBatches
	if batchSize < 1 {
		batchSize = 1
	}

	sem := make(chan bool, maxThreads) // limit parallelism
	for lower := 0; lower < numPixels; lower += batchSize {
		upper := lower + batchSize
		if upper > numPixels {
			upper = numPixels
		}
		sem <- true
		go func(lower, upper int) {
			defer func() { <-sem }()
			fn(lower, upper)
		}(lower, upper)
	}
	for i := 0; i < cap(sem); i++ { // wait for goroutines to finish
		sem <- true
	}
}
