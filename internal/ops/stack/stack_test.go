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
	"errors"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/valyala/fastrand"

	"github.com/mlnoga/framereduce/internal/frame"
	"github.com/mlnoga/framereduce/internal/ops"
)

func newTestContext() (*ops.Context, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return ops.NewContext(logger), hook
}

func constFrames(width, height int, values ...float32) []*frame.Frame {
	fs := make([]*frame.Frame, len(values))
	for i, v := range values {
		fs[i] = frame.New(width, height, nil)
		fs[i].ID = i
		for j := range fs[i].Data {
			fs[i].Data[j] = v
		}
	}
	return fs
}

func randomFrames(rng *fastrand.RNG, n, width, height int) []*frame.Frame {
	fs := make([]*frame.Frame, n)
	for i := range fs {
		fs[i] = frame.New(width, height, nil)
		for j := range fs[i].Data {
			fs[i].Data[j] = float32(rng.Uint32n(10000)) / 100
		}
	}
	return fs
}

func checkAll(t *testing.T, name string, f *frame.Frame, want float32) {
	t.Helper()
	for i, d := range f.Data {
		if d != want {
			t.Errorf("%s: res[%d]=%f; want %f", name, i, d, want)
			return
		}
	}
}

func TestReduceCenters(t *testing.T) {
	c, _ := newTestContext()
	tcs := []struct {
		Method CenterMethod
		Want   float32
	}{
		{CenterMean, 2.5},
		{CenterMedian, 2.5},
		{CenterMin, 1},
		{CenterMax, 4},
		{CenterSum, 10},
		{CenterVar, 1.25},
		{CenterStd, float32(math.Sqrt(1.25))},
	}
	for _, tc := range tcs {
		res, err := ReduceFrames(constFrames(3, 2, 4, 1, 3, 2), tc.Method, 0, nil, c)
		if err != nil {
			t.Fatalf("%s: %s", tc.Method, err)
		}
		if res.Width != 3 || res.Height != 2 {
			t.Errorf("%s: dimensions %s; want 3x2", tc.Method, res.DimensionsToString())
		}
		checkAll(t, string(tc.Method), res, tc.Want)
	}
}

func TestReduceMeanIsPointwiseMean(t *testing.T) {
	c, _ := newTestContext()
	rng := fastrand.RNG{}
	fs := randomFrames(&rng, 7, 13, 11)
	res, err := ReduceFrames(fs, CenterMean, 0, nil, c)
	if err != nil {
		t.Fatalf("Reduce: %s", err)
	}
	for i := range res.Data {
		sum := float32(0)
		for _, f := range fs {
			sum += f.Data[i]
		}
		if want := sum / float32(len(fs)); res.Data[i] != want {
			t.Errorf("res[%d]=%f; want %f", i, res.Data[i], want)
		}
	}
}

func TestReduceCutoffRemovesOutlier(t *testing.T) {
	c, hook := newTestContext()
	fs := constFrames(2, 2, 10, 10, 10, 10, 10, 10, 10, 10, 10, 1000)
	res, err := ReduceFrames(fs, CenterMedian, 3, nil, c)
	if err != nil {
		t.Fatalf("Reduce: %s", err)
	}
	checkAll(t, "median cutoff 3", res, 10)
	if last := hook.LastEntry(); last == nil || last.Data["cutoff"] != float32(3) {
		t.Errorf("missing clipping statistics log entry, got %v", last)
	}

	// the outlier lies exactly 3 standard deviations from the mean, so it is kept
	res, err = ReduceFrames(fs, CenterMean, 3, nil, c)
	if err != nil {
		t.Fatalf("Reduce: %s", err)
	}
	checkAll(t, "mean cutoff 3", res, 109)
}

func TestReduceCutoffZeroSpread(t *testing.T) {
	c, _ := newTestContext()
	res, err := ReduceFrames(constFrames(2, 1, 7, 7, 7), CenterMean, 1, nil, c)
	if err != nil {
		t.Fatalf("Reduce: %s", err)
	}
	checkAll(t, "zero spread", res, 7)
}

func TestReduceCutoffAllMasked(t *testing.T) {
	c, _ := newTestContext()
	// center 0 from the min, std 0.5, deviations 0 and 1: the second value is masked
	res, err := ReduceFrames(constFrames(1, 1, 0, 1), CenterMin, 1, nil, c)
	if err != nil {
		t.Fatalf("Reduce: %s", err)
	}
	checkAll(t, "min cutoff 1", res, 0)

	// center 0.5, every value deviates by one std and survives a cutoff of 1
	res, err = ReduceFrames(constFrames(1, 1, 0, 1), CenterMean, 1, nil, c)
	if err != nil {
		t.Fatalf("Reduce: %s", err)
	}
	checkAll(t, "mean cutoff 1", res, 0.5)

	// a tiny cutoff masks all values, and the sum of survivors is zero
	res, err = ReduceFrames(constFrames(1, 1, 0, 1), CenterMean, 0.1, nil, c)
	if err != nil {
		t.Fatalf("Reduce: %s", err)
	}
	checkAll(t, "mean cutoff 0.1", res, 0)
}

func TestReduceSingleFrame(t *testing.T) {
	c, _ := newTestContext()
	f := frame.New(2, 1, []float32{3, -1})
	for _, m := range []CenterMethod{CenterStd, CenterSum, CenterQuantiles} {
		res, err := ReduceFrames([]*frame.Frame{f}, m, 2, nil, c)
		if err != nil {
			t.Fatalf("%s: %s", m, err)
		}
		if res.Data[0] != 3 || res.Data[1] != -1 {
			t.Errorf("%s: res=%v; want copy of input", m, res.Data)
		}
		if &res.Data[0] == &f.Data[0] {
			t.Errorf("%s: result shares data with input", m)
		}
	}

	// a stack of one frame is still centered
	tcs := []struct {
		Method CenterMethod
		Want   []float32
	}{
		{CenterVar, []float32{0, 0}},
		{CenterStd, []float32{0, 0}},
		{CenterMean, []float32{5, 6}},
		{CenterMedian, []float32{5, 6}},
		{CenterSum, []float32{5, 6}},
	}
	for _, tc := range tcs {
		st := &Stack{Width: 2, Height: 1, Frames: [][]float32{{5, 6}}}
		res, err := Reduce(st, tc.Method, 0, nil, c)
		if err != nil {
			t.Fatalf("%s: %s", tc.Method, err)
		}
		if res.Data[0] != tc.Want[0] || res.Data[1] != tc.Want[1] {
			t.Errorf("%s: res=%v; want %v", tc.Method, res.Data, tc.Want)
		}
	}
}

func TestStackFilterStdOfOneFrame(t *testing.T) {
	c, _ := newTestContext()
	s := NewStackFilter(CenterStd, 0, nil)
	if err := s.Init(c, 1); err != nil {
		t.Fatalf("Init: %s", err)
	}
	if err := s.Add(frame.New(2, 2, []float32{5, 5, 5, 5})); err != nil {
		t.Fatalf("Add: %s", err)
	}
	res, err := s.Result()
	if err != nil {
		t.Fatalf("Result: %s", err)
	}
	checkAll(t, "std of one frame", res, 0)
}

func TestReduceNaN(t *testing.T) {
	c, _ := newTestContext()
	nan := float32(math.NaN())
	values := []float32{nan, 3, 5, 7}
	tcs := []struct {
		Method CenterMethod
		Band   *Band
		Want   float32 // NaN if negative
	}{
		{CenterMedian, nil, -1},
		{CenterMin, nil, -1},
		{CenterMax, nil, -1},
		{CenterQuantiles, &Band{0, 0.5}, 4},     // sorted 3, 5, 7, NaN
		{CenterQuantiles, &Band{0.25, 0.75}, 6}, // 5, 7
		{CenterQuantiles, &Band{0.5, 1}, -1},    // 7, NaN
	}
	for _, tc := range tcs {
		// every position of the NaN, so pivots land on it
		for shift := range values {
			frames := make([]*frame.Frame, len(values))
			for i := range values {
				frames[i] = frame.New(1, 1, []float32{values[(i+shift)%len(values)]})
			}
			res, err := ReduceFrames(frames, tc.Method, 0, tc.Band, c)
			if err != nil {
				t.Fatalf("%s %v: %s", tc.Method, tc.Band, err)
			}
			got := res.Data[0]
			if tc.Want < 0 {
				if !math.IsNaN(float64(got)) {
					t.Errorf("%s %v shift %d: res=%f; want NaN", tc.Method, tc.Band, shift, got)
				}
			} else if got != tc.Want {
				t.Errorf("%s %v shift %d: res=%f; want %f", tc.Method, tc.Band, shift, got, tc.Want)
			}
		}
	}
}

func TestReduceQuantiles(t *testing.T) {
	c, hook := newTestContext()
	tcs := []struct {
		Band Band
		Want float32
		Warn bool
	}{
		{Band{0.5, 0.5}, 3, true},
		{Band{1, 1}, 4, true},
		{Band{0, 0}, 1, true},
		{Band{0.25, 0.75}, 2.5, false},
		{Band{0, 1}, 2.5, false},
		{Band{0.75, 0.25}, 2.5, false},
	}
	for _, tc := range tcs {
		hook.Reset()
		b := tc.Band
		res, err := ReduceFrames(constFrames(1, 2, 2, 4, 1, 3), CenterQuantiles, 0, &b, c)
		if err != nil {
			t.Fatalf("%v: %s", tc.Band, err)
		}
		checkAll(t, tc.Band.String(), res, tc.Want)

		warned := false
		for _, e := range hook.AllEntries() {
			if e.Level == logrus.WarnLevel {
				warned = true
			}
		}
		if warned != tc.Warn {
			t.Errorf("%v: warned=%v; want %v", tc.Band, warned, tc.Warn)
		}
	}

	// no band defaults to the median element
	res, err := ReduceFrames(constFrames(1, 1, 2, 4, 1, 3), CenterQuantiles, 0, nil, c)
	if err != nil {
		t.Fatalf("default band: %s", err)
	}
	checkAll(t, "default band", res, 3)

	if _, err = ReduceFrames(constFrames(1, 1, 1, 2), CenterQuantiles, 0, &Band{-0.1, 0.5}, c); !errors.Is(err, ops.ErrConfig) {
		t.Errorf("err=%v; want configuration error", err)
	}
}

func TestQuantileRange(t *testing.T) {
	c, _ := newTestContext()
	tcs := []struct {
		N            int
		Band         Band
		Lower, Upper int
	}{
		{10, Band{0.1, 0.9}, 1, 9},
		{10, Band{0.15, 0.85}, 1, 9},
		{3, Band{0.5, 0.5}, 1, 2},
		{5, Band{0, 0.2}, 0, 1},
		{5, Band{1, 1}, 4, 5},
		{7, Band{0, 1}, 0, 7},
	}
	for _, tc := range tcs {
		lower, upper := quantileRange(tc.N, tc.Band, c)
		if lower != tc.Lower || upper != tc.Upper {
			t.Errorf("quantileRange(%d, %v)=%d,%d; want %d,%d", tc.N, tc.Band, lower, upper, tc.Lower, tc.Upper)
		}
	}
}

func TestReduceErrors(t *testing.T) {
	c, _ := newTestContext()
	if _, err := ReduceFrames(nil, CenterMean, 0, nil, c); !errors.Is(err, ops.ErrNoData) {
		t.Errorf("err=%v; want no data", err)
	}
	fs := []*frame.Frame{frame.New(2, 2, nil), frame.New(2, 3, nil)}
	if _, err := ReduceFrames(fs, CenterMean, 0, nil, c); !errors.Is(err, ops.ErrConfig) {
		t.Errorf("err=%v; want configuration error", err)
	}
	if _, err := ReduceFrames(constFrames(1, 1, 1, 2), "mode", 0, nil, c); !errors.Is(err, ops.ErrConfig) {
		t.Errorf("err=%v; want configuration error", err)
	}
}

func TestParseCenterMethod(t *testing.T) {
	tcs := []struct {
		Name string
		Want CenterMethod
		OK   bool
	}{
		{"mean", CenterMean, true},
		{"median", CenterMedian, true},
		{"std", CenterStd, true},
		{"quantiles", CenterQuantiles, true},
		{"quantile", CenterQuantiles, true},
		{"quantil", CenterQuantiles, true},
		{"mode", "", false},
		{"", "", false},
	}
	for _, tc := range tcs {
		m, err := ParseCenterMethod(tc.Name)
		if tc.OK && (err != nil || m != tc.Want) {
			t.Errorf("ParseCenterMethod(%s)=%s, %v; want %s", tc.Name, m, err, tc.Want)
		}
		if !tc.OK && !errors.Is(err, ops.ErrConfig) {
			t.Errorf("ParseCenterMethod(%s) err=%v; want configuration error", tc.Name, err)
		}
	}
}

func TestReduceParallelIsDeterministic(t *testing.T) {
	c, _ := newTestContext()
	rng := fastrand.RNG{}
	fs := randomFrames(&rng, 9, 97, 61)

	c.MaxThreads = 1
	serial, err := ReduceFrames(fs, CenterMedian, 2, nil, c)
	if err != nil {
		t.Fatalf("Reduce: %s", err)
	}
	c.MaxThreads = 8
	parallel, err := ReduceFrames(fs, CenterMedian, 2, nil, c)
	if err != nil {
		t.Fatalf("Reduce: %s", err)
	}
	for i := range serial.Data {
		if serial.Data[i] != parallel.Data[i] {
			t.Fatalf("res[%d] serial %f parallel %f", i, serial.Data[i], parallel.Data[i])
		}
	}
}

func TestStreamingMax(t *testing.T) {
	c, _ := newTestContext()
	a, _ := frame.FromRows([][]float32{{1, 2}, {3, 0}})
	b, _ := frame.FromRows([][]float32{{0, 5}, {1, 1}})
	alg := NewMax()
	if err := alg.Init(c, 2); err != nil {
		t.Fatalf("Init: %s", err)
	}
	for _, f := range []*frame.Frame{a, b} {
		if err := alg.Add(f); err != nil {
			t.Fatalf("Add: %s", err)
		}
	}
	res, err := alg.Result()
	if err != nil {
		t.Fatalf("Result: %s", err)
	}
	for i, want := range []float32{3, 5, 3, 1} {
		if res.Data[i] != want {
			t.Errorf("res[%d]=%f; want %f", i, res.Data[i], want)
		}
	}
	if a.Data[1] != 2 {
		t.Errorf("input frame modified")
	}
}

func TestAccumulators(t *testing.T) {
	c, _ := newTestContext()
	tcs := []struct {
		Alg  *Accumulator
		Want float32
	}{
		{NewMax(), 5},
		{NewMin(), 1},
		{NewSum(), 9},
		{NewMean(), 3},
	}
	for _, tc := range tcs {
		if !tc.Alg.Incremental() {
			t.Errorf("%s not incremental", tc.Alg.Name())
		}
		tc.Alg.Init(c, 0)
		if _, err := tc.Alg.Result(); !errors.Is(err, ops.ErrNoData) {
			t.Errorf("%s: empty result err=%v; want no data", tc.Alg.Name(), err)
		}
		for _, f := range constFrames(2, 2, 1, 3, 5) {
			if err := tc.Alg.Add(f); err != nil {
				t.Fatalf("%s: Add: %s", tc.Alg.Name(), err)
			}
		}
		res, err := tc.Alg.Result()
		if err != nil {
			t.Fatalf("%s: Result: %s", tc.Alg.Name(), err)
		}
		checkAll(t, tc.Alg.Name(), res, tc.Want)
		if tc.Alg.Count() != 3 {
			t.Errorf("%s: count %d; want 3", tc.Alg.Name(), tc.Alg.Count())
		}
		if err := tc.Alg.Add(frame.New(3, 2, nil)); !errors.Is(err, ops.ErrConfig) {
			t.Errorf("%s: err=%v; want configuration error", tc.Alg.Name(), err)
		}
	}
}

func TestAccumulatorsPropagateNaN(t *testing.T) {
	c, _ := newTestContext()
	nan := float32(math.NaN())
	for _, values := range [][]float32{{nan, 1, 2}, {1, nan, 2}, {1, 2, nan}} {
		for _, alg := range []*Accumulator{NewMax(), NewMin()} {
			alg.Init(c, 0)
			for _, f := range constFrames(1, 1, values...) {
				if err := alg.Add(f); err != nil {
					t.Fatalf("%s: Add: %s", alg.Name(), err)
				}
			}
			res, err := alg.Result()
			if err != nil {
				t.Fatalf("%s: Result: %s", alg.Name(), err)
			}
			if !math.IsNaN(float64(res.Data[0])) {
				t.Errorf("%s%v=%f; want NaN", alg.Name(), values, res.Data[0])
			}
		}
	}
}

func TestAccumulatorsMatchBatch(t *testing.T) {
	c, _ := newTestContext()
	rng := fastrand.RNG{}
	fs := randomFrames(&rng, 6, 17, 9)
	for name, method := range map[string]CenterMethod{
		AccumulateMax: CenterMax, AccumulateMin: CenterMin, AccumulateSum: CenterSum, AccumulateMean: CenterMean,
	} {
		alg := DefaultFactories()[name]()
		alg.Init(c, len(fs))
		for _, f := range fs {
			if err := alg.Add(f); err != nil {
				t.Fatalf("%s: Add: %s", name, err)
			}
		}
		streamed, err := alg.Result()
		if err != nil {
			t.Fatalf("%s: Result: %s", name, err)
		}
		batched, err := ReduceFrames(fs, method, 0, nil, c)
		if err != nil {
			t.Fatalf("%s: Reduce: %s", name, err)
		}
		for i := range streamed.Data {
			if streamed.Data[i] != batched.Data[i] {
				t.Errorf("%s: streamed[%d]=%f; batched %f", name, i, streamed.Data[i], batched.Data[i])
				break
			}
		}
	}
}

func TestStackFilter(t *testing.T) {
	c, _ := newTestContext()
	for _, capacity := range []int{0, 3} {
		s := NewStackFilter(CenterMedian, 0, nil)
		if s.Incremental() {
			t.Errorf("stack filter incremental")
		}
		if err := s.Init(c, capacity); err != nil {
			t.Fatalf("Init: %s", err)
		}
		for _, f := range constFrames(2, 2, 5, 1, 3) {
			if err := s.Add(f); err != nil {
				t.Fatalf("Add: %s", err)
			}
		}
		if err := s.Add(frame.New(1, 1, nil)); !errors.Is(err, ops.ErrConfig) {
			t.Errorf("err=%v; want configuration error", err)
		}
		res, err := s.Result()
		if err != nil {
			t.Fatalf("Result: %s", err)
		}
		checkAll(t, "stack filter median", res, 3)
		if s.Count() != 0 {
			t.Errorf("stack not released after result")
		}
	}

	s := NewStackFilter(CenterMean, 0, nil)
	s.Init(c, 1)
	s.Add(frame.New(1, 1, nil))
	if err := s.Add(frame.New(1, 1, nil)); !errors.Is(err, ops.ErrConfig) {
		t.Errorf("err=%v; want capacity error", err)
	}
	if err := NewStackFilter("mode", 0, nil).Init(c, 1); !errors.Is(err, ops.ErrConfig) {
		t.Errorf("err=%v; want configuration error", err)
	}
	empty := NewStackFilter(CenterMean, 0, nil)
	empty.Init(c, 0)
	if _, err := empty.Result(); !errors.Is(err, ops.ErrNoData) {
		t.Errorf("err=%v; want no data", err)
	}
}

func TestParameters(t *testing.T) {
	m := NewStackFilter(CenterMean, 0, nil).Parameters().Map()
	if m["cutoff"] != "None" || m["quantiles"] != "None" {
		t.Errorf("parameters %v; want None for both", m)
	}
	m = NewStackFilter(CenterQuantiles, 4, &Band{0.2, 0.8}).Parameters().Map()
	if m["cutoff"] != "4" || m["quantiles"] != "(0.2, 0.8)" {
		t.Errorf("parameters %v; want cutoff 4 quantiles (0.2, 0.8)", m)
	}
	m = NewStackFilter(CenterMedian, 0, &Band{0.1, 0.9}).Parameters().Map()
	if m["quantiles"] != "(0.1, 0.9)" {
		t.Errorf("parameters %v; want quantiles (0.1, 0.9) for median", m)
	}
	m = NewStackFilter(CenterQuantiles, 0, nil).Parameters().Map()
	if m["quantiles"] != "(0.5, 0.5)" {
		t.Errorf("parameters %v; want default quantiles (0.5, 0.5)", m)
	}
	if NewMean().Parameters().Cutoff != nil {
		t.Errorf("accumulator has cutoff parameter")
	}
}

func TestLookupFactory(t *testing.T) {
	fs := DefaultFactories()
	if f, err := LookupFactory(fs, "MAX"); err != nil || f().Name() != "max" {
		t.Errorf("LookupFactory(MAX) err=%v", err)
	}
	if _, err := LookupFactory(fs, "mode"); !errors.Is(err, ops.ErrConfig) {
		t.Errorf("err=%v; want configuration error", err)
	}
	names := FactoryNames(fs)
	if len(names) != 4 || names[0] != "max" || names[3] != "sum" {
		t.Errorf("names %v; want sorted max, mean, min, sum", names)
	}
}
