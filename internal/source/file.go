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
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/png" // register PNG decoder
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/tiff" // register TIFF decoder
	"gopkg.in/yaml.v3"

	"github.com/mlnoga/framereduce/internal/fits"
	"github.com/mlnoga/framereduce/internal/frame"
	"github.com/mlnoga/framereduce/internal/ops"
)

// Suffix of the optional YAML header sidecar next to an image file
const SidecarSuffix = ".yaml"

// A frame source loaded from a file. FITS files may hold a cube of frames,
// TIFF and PNG files hold a single gray frame
type File struct {
	Memory
}

var _ Source = (*File)(nil) // Compile time assertion: type implements the interface

// Returns the file format for a file name, or an error if unsupported
func Format(fileName string) (string, error) {
	lName := strings.ToLower(fileName)
	lName = strings.TrimSuffix(strings.TrimSuffix(lName, ".gz"), ".gzip")
	switch ext := filepath.Ext(lName); ext {
	case ".fits", ".fit", ".fts":
		return "fits", nil
	case ".tif", ".tiff":
		return "tiff", nil
	case ".png":
		return "png", nil
	default:
		return "", ops.ConfigErrorf("%s: unsupported file type '%s'", fileName, ext)
	}
}

// Loads all frames from the given file, and merges the header sidecar if present
func NewFile(fileName string, log *logrus.Entry) (*File, error) {
	format, err := Format(fileName)
	if err != nil {
		return nil, err
	}
	log.WithField("frame", fileName).Infof("Reading %s", fileName)

	var header frame.Header
	var frames []*frame.Frame
	if format == "fits" {
		img, err := fits.ReadFile(fileName, log.WithField("frame", fileName))
		if err != nil {
			return nil, err
		}
		header = img.Header
		for i := 0; i < img.NumFrames(); i++ {
			f, err := img.Frame(i)
			if err != nil {
				return nil, err
			}
			frames = append(frames, f)
		}
	} else {
		f, err := readGray(fileName)
		if err != nil {
			return nil, err
		}
		header, frames = frame.Header{}, []*frame.Frame{f}
	}
	if len(frames) == 0 {
		return nil, ops.ConfigErrorf("%s: file holds no 2D frames", fileName)
	}

	sidecar, err := ReadSidecar(fileName + SidecarSuffix)
	if err != nil {
		return nil, err
	}
	for k, v := range sidecar {
		header[k] = v
	}
	if format != "fits" {
		if err := unscale(frames[0], header); err != nil {
			return nil, fmt.Errorf("%s: %w", fileName, err)
		}
	}
	for _, f := range frames {
		f.Header = header
	}
	log.WithField("frame", fileName).Debugf("Loaded %d frames of %s pixels", len(frames), frames[0].DimensionsToString())
	return &File{Memory{name: fileName, header: header, frames: frames}}, nil
}

// Decodes a gray image into a frame. 16-bit precision is preserved, color images are converted to gray
func readGray(fileName string) (*frame.Frame, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}
	b := img.Bounds()
	f := frame.New(b.Dx(), b.Dy(), nil)
	f.Name = fileName
	switch g := img.(type) {
	case *image.Gray16:
		for y := 0; y < f.Height; y++ {
			for x := 0; x < f.Width; x++ {
				f.Data[y*f.Width+x] = float32(g.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	case *image.Gray:
		for y := 0; y < f.Height; y++ {
			for x := 0; x < f.Width; x++ {
				f.Data[y*f.Width+x] = float32(g.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	default:
		for y := 0; y < f.Height; y++ {
			for x := 0; x < f.Width; x++ {
				c := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				f.Data[y*f.Width+x] = float32(c.Y)
			}
		}
	}
	return f, nil
}

// Maps 16-bit gray values back to the float range recorded in the header, if any
func unscale(f *frame.Frame, h frame.Header) error {
	minStr, okMin := h.Get(frame.KeyScaleMin)
	maxStr, okMax := h.Get(frame.KeyScaleMax)
	if !okMin || !okMax {
		return nil
	}
	min, err := strconv.ParseFloat(minStr, 32)
	if err != nil {
		return ops.ConfigErrorf("invalid %s '%s'", frame.KeyScaleMin, minStr)
	}
	max, err := strconv.ParseFloat(maxStr, 32)
	if err != nil {
		return ops.ConfigErrorf("invalid %s '%s'", frame.KeyScaleMax, maxStr)
	}
	scale := float32(max-min) / 65535
	for i, d := range f.Data {
		f.Data[i] = d*scale + float32(min)
	}
	return nil
}

// Reads a YAML header sidecar. Returns an empty header if the file does not exist.
// Scalar values are kept as written, lists are joined with spaces
func ReadSidecar(fileName string) (frame.Header, error) {
	data, err := os.ReadFile(fileName)
	if errors.Is(err, fs.ErrNotExist) {
		return frame.Header{}, nil
	} else if err != nil {
		return nil, err
	}

	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}
	h := frame.Header{}
	for k, n := range doc {
		switch n.Kind {
		case yaml.ScalarNode:
			h[k] = n.Value
		case yaml.SequenceNode:
			vals := make([]string, 0, len(n.Content))
			for _, c := range n.Content {
				if c.Kind != yaml.ScalarNode {
					return nil, fmt.Errorf("%s: key '%s' has nested values", fileName, k)
				}
				vals = append(vals, c.Value)
			}
			h[k] = strings.Join(vals, " ")
		default:
			return nil, fmt.Errorf("%s: key '%s' has nested values", fileName, k)
		}
	}
	return h, nil
}

// Opens all named files concurrently, keeping their order
func OpenAll(fileNames []string, c *ops.Context) ([]Source, error) {
	promises := make([]ops.Promise[Source], len(fileNames))
	for i, name := range fileNames {
		name := name
		promises[i] = func() (Source, error) { return NewFile(name, c.Entry()) }
	}
	return ops.MaterializeAll(promises, c.MaxThreads)
}

// Expands file name wildcards. Patterns without matches are kept as is,
// so that opening them reports the missing file
func ExpandGlobs(patterns []string) ([]string, error) {
	var names []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, ops.ConfigErrorf("bad file pattern '%s': %s", pattern, err.Error())
		}
		if len(matches) == 0 {
			names = append(names, pattern)
		}
		names = append(names, matches...)
	}
	return names, nil
}
