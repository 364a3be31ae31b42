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

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/cpuid"
	"github.com/sirupsen/logrus"

	"github.com/mlnoga/framereduce/internal/ops"
	"github.com/mlnoga/framereduce/internal/ops/average"
	"github.com/mlnoga/framereduce/internal/ops/pre"
	"github.com/mlnoga/framereduce/internal/ops/stack"
	"github.com/mlnoga/framereduce/internal/rest"
)

const version = "0.1.0"

var config = flag.String("config", "", "load reduction options from YAML `file`; flags given explicitly take precedence")

var filter = flag.String("filter", average.FilterMean, "reduction filter, one of "+strings.Join(average.Filters, ", "))
var cutoff = flag.Float64("cutoff", 0, "sigma clipping cutoff in standard deviations around the center, 0=off")
var quantiles = flag.String("quantiles", "", "quantile band `lo,hi` in [0,1] to average, e.g. 0.25,0.75. Blank=off")

var threshold = flag.Float64("threshold", 0, "saturation threshold: pixels above (1-threshold)*max are saturated, 0=off")
var satMin = flag.Float64("min", 0, "pixels below this value are invalid. Unset=off")
var satMax = flag.Float64("max", 0, "pixels above this value are saturated. Unset=off")
var policy = flag.String("saturation", string(pre.PolicyMedian), "saturated pixel policy, median or clamp")

var dark = flag.String("dark", "", "subtract the average of comma-separated dark `files`")
var flat = flag.String("flat", "", "divide by the average of comma-separated flat `files`")
var flatFromDark = flag.Bool("flatFromDark", false, "subtract the dark from the flat before dividing")
var monitor = flag.String("monitor", "", "normalize by the header monitor `key`, either a plain key or base/mnemonic")

var out = flag.String("out", "", "save result to `file`. {method} is replaced by the filter name. Blank=derive from inputs")
var format = flag.String("format", "", "output format, one of fits, tiff or png. Blank=derive from -out, or fits")
var dryRun = flag.Bool("dryRun", false, "log output file names without writing")

var threads = flag.Int("threads", 0, "number of threads, 0=number of logical CPUs")
var logLevel = flag.String("logLevel", "info", "log level, one of debug, info, warn or error")
var logJSON = flag.Bool("logJSON", false, "log in JSON format")
var logFile = flag.String("log", "", "save log output to `file` in addition to stdout")

var port = flag.Int("port", 8080, "port for the REST API")
var chroot = flag.String("chroot", "", "chroot to `dir` before serving the REST API (requires root)")
var setuid = flag.Int("setuid", -1, "change to user `id` before serving the REST API, -1=keep")

func main() {
	logWriter := io.Writer(os.Stdout)
	debug.SetGCPercent(10)
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `Framereduce Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (reduce|serve|legal|version) (img0.fits ... imgn.fits)

Commands:
  reduce  Reduce input frames to a single frame with the selected filter
  serve   Serve the REST API
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	// Initialize logging to file in addition to stdout, if selected
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to open logfile '%s': %s\n", *logFile, err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		logWriter = io.MultiWriter(os.Stdout, f)
	}
	log, err := ops.NewLogger(logWriter, *logLevel, *logJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		os.Exit(-1)
	}

	c := ops.NewContext(log)
	c.MaxThreads = defaultThreads(*threads)
	log.WithFields(logrus.Fields{
		"cpu":     cpuid.CPU.BrandName,
		"cores":   cpuid.CPU.PhysicalCores,
		"threads": c.MaxThreads,
		"avx2":    cpuid.CPU.AVX2(),
		"memMB":   c.MemoryMB,
	}).Debug("System")

	switch args[0] {
	case "reduce":
		err = cmdReduce(args[1:], c)

	case "serve":
		if err = rest.MakeSandbox(*chroot, *setuid, log); err == nil {
			err = rest.Serve(fmt.Sprintf(":%d", *port), log, c.MaxThreads)
		}

	case "legal":
		cmdLegal(logWriter)

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	if err != nil {
		log.Errorf("Error: %s", err.Error())
		os.Exit(-1)
	}
	log.Debugf("Done after %v", time.Since(start))
}

// Uses all logical cores unless a thread count is given
func defaultThreads(n int) int {
	if n > 0 {
		return n
	}
	if cpuid.CPU.LogicalCores > 0 {
		return cpuid.CPU.LogicalCores
	}
	return runtime.NumCPU()
}

func cmdReduce(images []string, c *ops.Context) error {
	o := average.NewOptionsDefault()
	if *config != "" {
		var err error
		if o, err = average.LoadOptions(*config); err != nil {
			return err
		}
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if err := applyFlags(o, set, images); err != nil {
		return err
	}

	m, err := json.MarshalIndent(o, "", "  ")
	if err == nil {
		c.Entry().Debugf("Reducing with these settings:\n%s", string(m))
	}

	res, err := average.AverageImages(o, c)
	if err != nil {
		return err
	}
	c.Entry().WithFields(logrus.Fields{
		"method":   res.Method,
		"frames":   res.NumFrames,
		"accepted": res.NumAccepted,
	}).Infof("Reduced %d sources into %s", res.NumSources, res.FileName)
	return nil
}

// Copies explicitly set flags into the options. Without a config file, every
// flag default applies. Positional image arguments are appended to the configured images
func applyFlags(o *average.Options, set map[string]bool, images []string) error {
	use := func(name string) bool { return *config == "" || set[name] }

	o.Images = append(o.Images, images...)
	if use("filter") {
		o.Filter = *filter
	}
	if set["cutoff"] {
		v := float32(*cutoff)
		o.Cutoff = &v
	}
	if set["quantiles"] {
		b, err := parseBand(*quantiles)
		if err != nil {
			return err
		}
		o.Quantiles = b
	}
	if use("threshold") {
		o.Saturation.Threshold = float32(*threshold)
	}
	if set["min"] {
		v := float32(*satMin)
		o.Saturation.Min = &v
	}
	if set["max"] {
		v := float32(*satMax)
		o.Saturation.Max = &v
	}
	if use("saturation") {
		o.Saturation.Policy = pre.SaturationPolicy(*policy)
	}
	if set["dark"] {
		o.Darks = splitList(*dark)
	}
	if set["flat"] {
		o.Flats = splitList(*flat)
	}
	if set["flatFromDark"] {
		o.CorrectFlatFromDark = *flatFromDark
	}
	if set["monitor"] {
		o.MonitorKey = *monitor
	}
	if set["out"] {
		o.Output = *out
	}
	if set["format"] {
		o.Format = *format
	} else if set["out"] {
		o.Format = "" // derive from the output name
	}
	if set["dryRun"] {
		o.DryRun = *dryRun
	}
	return nil
}

// Parses a quantile band given as lo,hi. Blank means no band
func parseBand(s string) (*stack.Band, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return nil, ops.ConfigErrorf("quantiles '%s' not of the form lo,hi", s)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil, ops.ConfigErrorf("quantiles '%s': %s", s, err.Error())
	}
	hi, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, ops.ConfigErrorf("quantiles '%s': %s", s, err.Error())
	}
	b := &stack.Band{Lo: lo, Hi: hi}
	return b, b.Validate()
}

func splitList(s string) []string {
	res := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	return res
}
