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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mlnoga/framereduce/internal/ops"
	"github.com/mlnoga/framereduce/internal/ops/pre"
	"github.com/mlnoga/framereduce/internal/ops/stack"
	"github.com/mlnoga/framereduce/internal/sink"
	"github.com/mlnoga/framereduce/internal/source"
)

// Filter names accepted in Options. Unknown names fall back to FilterMean
var Filters = []string{"min", "max", "median", "mean", "sum", "quantiles", "std"}

const FilterMean = "mean"

// Options for reducing a set of images in one call
type Options struct {
	Images              []string       `json:"images"              yaml:"images"`
	Filter              string         `json:"filter"              yaml:"filter"`
	Cutoff              *float32       `json:"cutoff"              yaml:"cutoff"`    // keep values with |value-center|/std <= cutoff, nil=off
	Quantiles           *stack.Band    `json:"quantiles"           yaml:"quantiles"` // band of sorted values to average, nil=off
	Saturation          pre.Saturation `json:"saturation"          yaml:"saturation"`
	Darks               []string       `json:"darks"               yaml:"darks"`
	Flats               []string       `json:"flats"               yaml:"flats"`
	CorrectFlatFromDark bool           `json:"correctFlatFromDark" yaml:"correctFlatFromDark"`
	MonitorKey          string         `json:"monitorKey"          yaml:"monitorKey"`
	Output              string         `json:"output"              yaml:"output"` // file name, may contain {method}. Defaults from the inputs
	Format              string         `json:"format"              yaml:"format"` // fits, tiff or png. Empty with empty output means no files
	DryRun              bool           `json:"dryRun"              yaml:"dryRun"`
}

func NewOptionsDefault() *Options {
	return &Options{
		Filter:     FilterMean,
		Saturation: pre.Saturation{Policy: pre.PolicyMedian},
		Format:     "fits",
	}
}

// Unmarshal from JSON, using default values for keys not present
func (o *Options) UnmarshalJSON(data []byte) error {
	type defaults Options
	def := defaults(*NewOptionsDefault())
	err := json.Unmarshal(data, &def)
	if err != nil {
		return err
	}
	*o = Options(def)
	return nil
}

// Loads options from a YAML file, using default values for keys not present
func LoadOptions(fileName string) (*Options, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, err
	}
	o := NewOptionsDefault()
	if err := yaml.Unmarshal(data, o); err != nil {
		return nil, ops.ConfigErrorf("%s: %s", fileName, err.Error())
	}
	return o, nil
}

// Downgrades unknown filters to the mean with a warning, and normalizes the output format
func (o *Options) Normalize(c *ops.Context) {
	known := false
	for _, f := range Filters {
		if o.Filter == f {
			known = true
			break
		}
	}
	if !known {
		c.Entry().Warnf("Filter %s not understood. Switch to mean filter", o.Filter)
		o.Filter = FilterMean
	}
	o.Format = strings.TrimLeft(o.Format, ".")
	if o.Format == "" && o.Output != "" {
		o.Format = strings.TrimLeft(filepath.Ext(o.Output), ".")
	}
}

func (o *Options) Validate() error {
	if o.Quantiles != nil {
		if err := o.Quantiles.Validate(); err != nil {
			return err
		}
	}
	if err := o.Saturation.Validate(); err != nil {
		return ops.ConfigErrorf("%s", err.Error())
	}
	if o.Format != "" {
		if _, err := sink.NormalizeFormat(o.Format); err != nil {
			return err
		}
	}
	return nil
}

// Whether the options need a buffered stack rather than a streaming accumulator
func (o *Options) NeedsStack() bool {
	return (o.Cutoff != nil && *o.Cutoff > 0) || o.Quantiles != nil ||
		o.Filter == "median" || o.Filter == "quantiles" || o.Filter == "std"
}

// Creates the algorithm selected by the options
func (o *Options) Algorithm() (stack.Algorithm, error) {
	if o.NeedsStack() {
		method, err := stack.ParseCenterMethod(o.Filter)
		if err != nil {
			return nil, err
		}
		cutoff := float32(0)
		if o.Cutoff != nil {
			cutoff = *o.Cutoff
		}
		return stack.NewStackFilter(method, cutoff, o.Quantiles), nil
	}
	factory, err := stack.LookupFactory(stack.DefaultFactories(), o.Filter)
	if err != nil {
		return nil, err
	}
	return factory(), nil
}

// Default output file name pattern, from the method token, the number of frames,
// and the common prefix of the input base names. Placed next to the first input
func DefaultOutput(names []string, numFrames int, format string) string {
	bases := make([]string, len(names))
	for i, n := range names {
		bases[i] = filepath.Base(n)
	}
	name := fmt.Sprintf("%sfilt%02d-%s.%s", sink.MethodToken, numFrames, CommonPrefix(bases), format)
	if len(names) == 0 {
		return name
	}
	return filepath.Join(filepath.Dir(names[0]), name)
}

// Returns the longest common prefix of the given strings
func CommonPrefix(strs []string) string {
	if len(strs) == 0 {
		return ""
	}
	prefix := strs[0]
	for _, s := range strs[1:] {
		i := 0
		for i < len(prefix) && i < len(s) && prefix[i] == s[i] {
			i++
		}
		prefix = prefix[:i]
	}
	return prefix
}

// Sets up an Average from the options over the given sources, and returns it together
// with the selected algorithm. Darks and flats are given as sources, the file lists in
// the options are not used
func NewAverageFromOptions(o *Options, images, darks, flats []source.Source, c *ops.Context) (*Average, stack.Algorithm, error) {
	o.Normalize(c)
	if err := o.Validate(); err != nil {
		return nil, nil, err
	}
	a := NewAverage(c)
	a.SetImages(images)
	if err := a.SetDark(darks); err != nil {
		return nil, nil, err
	}
	if err := a.SetFlat(flats); err != nil {
		return nil, nil, err
	}
	a.SetCorrectFlatFromDark(o.CorrectFlatFromDark)
	a.SetMonitorKey(o.MonitorKey)
	sat := o.Saturation
	a.SetPixelFilter(&sat)

	alg, err := o.Algorithm()
	if err != nil {
		return nil, nil, err
	}
	a.AddAlgorithm(alg)
	return a, alg, nil
}

// Reads the images, darks and flats named in the options, reduces the images with
// the selected filter, and writes the result if an output format or file is given.
// Returns the result, with the file name set if one was written
func AverageImages(o *Options, c *ops.Context) (*Result, error) {
	names, err := source.ExpandGlobs(o.Images)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no images given: %w", ops.ErrNoData)
	}
	images, err := source.OpenAll(names, c)
	if err != nil {
		return nil, err
	}
	darks, err := openOptional(o.Darks, c)
	if err != nil {
		return nil, fmt.Errorf("dark: %w", err)
	}
	flats, err := openOptional(o.Flats, c)
	if err != nil {
		return nil, fmt.Errorf("flat: %w", err)
	}

	a, _, err := NewAverageFromOptions(o, images, darks, flats, c)
	if err != nil {
		return nil, err
	}

	if o.Format != "" || o.Output != "" {
		output := o.Output
		if output == "" {
			output = DefaultOutput(names, a.NumFrames(), o.Format)
		}
		w, err := sink.NewFile(output, o.Format, o.DryRun, c)
		if err != nil {
			return nil, err
		}
		a.SetWriter(w)
	}

	res, err := a.Process()
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

func openOptional(patterns []string, c *ops.Context) ([]source.Source, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	names, err := source.ExpandGlobs(patterns)
	if err != nil {
		return nil, err
	}
	return source.OpenAll(names, c)
}
