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

package sink

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/tiff"
	"gopkg.in/yaml.v3"

	"github.com/mlnoga/framereduce/internal/fits"
	"github.com/mlnoga/framereduce/internal/frame"
	"github.com/mlnoga/framereduce/internal/ops"
)

// Placeholder in file name patterns, replaced with the method name of each result
const MethodToken = "{method}"

// Suffix of the YAML provenance sidecar written next to TIFF and PNG results
const SidecarSuffix = ".yaml"

// Writes one file per result. FITS files carry the header inline as 32-bit floats.
// TIFF and PNG files hold 16-bit gray values scaled to the result's range,
// with the header and the scaling in a YAML sidecar
type File struct {
	Pattern string // file name, with MethodToken replaced by the method
	Format  string // fits, tiff or png
	DryRun  bool   // build results but do not create files
	RunID   string

	log     *logrus.Entry
	global  frame.Header
	Written []string
}

var _ Sink = (*File)(nil) // Compile time assertion: type implements the interface

// Normalizes a file format name, e.g. ".TIF" to tiff or fits.gz to fits
func NormalizeFormat(format string) (string, error) {
	f := strings.ToLower(strings.TrimLeft(format, "."))
	if i := strings.Index(f, "."); i >= 0 {
		f = f[:i]
	}
	switch f {
	case "fits", "fit", "fts":
		return "fits", nil
	case "tif", "tiff":
		return "tiff", nil
	case "png":
		return "png", nil
	}
	return "", ops.ConfigErrorf("unsupported output format '%s'", format)
}

func NewFile(pattern, format string, dryRun bool, c *ops.Context) (*File, error) {
	f, err := NormalizeFormat(format)
	if err != nil {
		return nil, err
	}
	if pattern == "" {
		return nil, ops.ConfigErrorf("empty output file name")
	}
	return &File{Pattern: pattern, Format: f, DryRun: dryRun, RunID: c.RunID, log: c.Entry(), global: frame.Header{}}, nil
}

func (s *File) WriteHeader(sources []string, numFrames int) error {
	s.global = sourcesHeader(sources, numFrames)
	return nil
}

// Returns the file name for the given method
func (s *File) FileName(method string) string {
	return strings.ReplaceAll(s.Pattern, MethodToken, method)
}

func (s *File) WriteResult(method string, params map[string]string, f *frame.Frame) (string, error) {
	name := s.FileName(method)
	header := resultHeader(s.global, method, params)
	if s.RunID != "" {
		header["run"] = s.RunID
	}
	if s.DryRun {
		s.log.WithField("method", method).Infof("Dry run, not writing %s", name)
		return name, nil
	}

	var err error
	switch s.Format {
	case "fits":
		err = fits.WriteFile(name, f, header)
	case "tiff", "png":
		err = s.writeGray16(name, f, header)
	}
	if err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	s.Written = append(s.Written, name)
	s.log.WithField("method", method).Infof("Wrote %s", name)
	return name, nil
}

func (s *File) Close() error {
	s.global = nil
	return nil
}

// Writes a frame as 16-bit gray image scaled to its min..max range, plus the YAML sidecar
func (s *File) writeGray16(name string, f *frame.Frame, header frame.Header) error {
	min, max := f.MinMax()
	if max < min { // no valid values
		min, max = 0, 0
	}
	header[frame.KeyScaleMin] = strconv.FormatFloat(float64(min), 'g', -1, 32)
	header[frame.KeyScaleMax] = strconv.FormatFloat(float64(max), 'g', -1, 32)

	file, err := os.Create(name)
	if err != nil {
		return err
	}
	defer file.Close()
	writer := bufio.NewWriter(file)
	if err = EncodeGray16(writer, f, min, max, s.Format); err != nil {
		return err
	}
	if err = writer.Flush(); err != nil {
		return err
	}

	data, err := yaml.Marshal(map[string]string(header))
	if err != nil {
		return err
	}
	return os.WriteFile(name+SidecarSuffix, data, 0644)
}

// Encodes a frame as 16-bit gray TIFF or PNG, mapping min..max to 0..65535
func EncodeGray16(w io.Writer, f *frame.Frame, min, max float32, format string) error {
	img := image.NewGray16(image.Rect(0, 0, f.Width, f.Height))
	scale := float32(0)
	if max > min {
		scale = 1 / (max - min)
	}
	for y := 0; y < f.Height; y++ {
		yoffset := y * f.Width
		for x := 0; x < f.Width; x++ {
			gray := (f.Data[yoffset+x] - min) * scale
			// replace NaNs with zeros for export
			if math.IsNaN(float64(gray)) || gray < 0 {
				gray = 0
			}
			if gray > 1 {
				gray = 1
			}
			img.SetGray16(x, y, color.Gray16{uint16(gray*65535 + 0.5)})
		}
	}
	if format == "png" {
		return png.Encode(w, img)
	}
	return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}
