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

package fits

import (
	"fmt"
	"strings"

	"github.com/mlnoga/framereduce/internal/frame"
)

// A FITS primary data unit, holding one 2D frame or a cube of frames.
// Standard:    https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Primer here: https://fits.gsfc.nasa.gov/fits_primer.html
type Image struct {
	Header frame.Header // All keys except the structural ones, with values as strings
	Bitpix int          // Bits per pixel value from the header. Positive values are integral, negative floating.
	Bzero  float32      // Zero offset. True pixel value is Bzero + Bscale * Data[i].
	Bscale float32      // Value scaler. True pixel value is Bzero + Bscale * Data[i].
	Naxisn []int        // Axis dimensions. Most quickly varying dimension first (i.e. X,Y,frame)
	Data   []float32    // The image data, with Bzero and Bscale applied
}

const fitsBlockSize int = 2880 // Block size of FITS header and data units
const HeaderLineSize int = 80  // Line size of a FITS header

// Keys describing the data layout. Not carried in Image.Header
var structuralKeys = map[string]bool{
	"SIMPLE": true, "BITPIX": true, "NAXIS": true, "BZERO": true, "BSCALE": true, "EXTEND": true, "END": true,
}

func isStructural(key string) bool {
	return structuralKeys[key] || (strings.HasPrefix(key, "NAXIS") && len(key) > 5)
}

// Number of pixels, the product of all axis dimensions
func (img *Image) Pixels() int {
	if len(img.Naxisn) == 0 {
		return 0
	}
	p := 1
	for _, n := range img.Naxisn {
		p *= n
	}
	return p
}

// Number of 2D frames. A 2D image has one frame, a 3D cube has NAXIS3 frames
func (img *Image) NumFrames() int {
	switch len(img.Naxisn) {
	case 0, 1:
		return 0
	case 2:
		return 1
	default:
		if img.Naxisn[0]*img.Naxisn[1] == 0 {
			return 0
		}
		return img.Pixels() / (img.Naxisn[0] * img.Naxisn[1])
	}
}

// Returns frame i. Data is shared with the image
func (img *Image) Frame(i int) (*frame.Frame, error) {
	if i < 0 || i >= img.NumFrames() {
		return nil, fmt.Errorf("frame %d out of range, image has %d", i, img.NumFrames())
	}
	width, height := img.Naxisn[0], img.Naxisn[1]
	size := width * height
	f := frame.New(width, height, img.Data[i*size:(i+1)*size])
	f.Header = img.Header.Clone()
	return f, nil
}

func (img *Image) DimensionsToString() string {
	b := strings.Builder{}
	for i, naxis := range img.Naxisn {
		if i > 0 {
			fmt.Fprintf(&b, "x%d", naxis)
		} else {
			fmt.Fprintf(&b, "%d", naxis)
		}
	}
	return b.String()
}
