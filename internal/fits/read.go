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
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mlnoga/framereduce/internal/frame"
)

var reParser *regexp.Regexp = compileRE() // Regexp parser for FITS header lines

// Reads a FITS image from the file with the given name. Decompresses gzip if .gz or .gzip suffix is present.
func ReadFile(fileName string, log *logrus.Entry) (*Image, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	lExt := strings.ToLower(filepath.Ext(fileName))
	if lExt == ".gz" || lExt == ".gzip" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	img, err := Read(r, log)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}
	return img, nil
}

// Reads a FITS image from the reader. Only the primary data unit is read
func Read(r io.Reader, log *logrus.Entry) (img *Image, err error) {
	raw, err := readHeader(r, log)
	if err != nil {
		return nil, err
	}

	// check mandatory fields as per standard
	if raw["SIMPLE"] != "T" {
		return nil, fmt.Errorf("not a valid FITS file; SIMPLE=T missing in header")
	}
	img = &Image{Header: frame.Header{}, Bscale: 1}
	if img.Bitpix, err = headerInt(raw, "BITPIX"); err != nil {
		return nil, err
	}
	naxis, err := headerInt(raw, "NAXIS")
	if err != nil {
		return nil, err
	}
	if naxis < 0 || naxis > 999 {
		return nil, fmt.Errorf("invalid NAXIS value %d", naxis)
	}
	img.Naxisn = make([]int, naxis)
	pixels := 1
	for i := 1; i <= naxis; i++ {
		if img.Naxisn[i-1], err = headerInt(raw, "NAXIS"+strconv.Itoa(i)); err != nil {
			return nil, err
		}
		n := img.Naxisn[i-1]
		if n < 0 {
			return nil, fmt.Errorf("invalid NAXIS%d value %d", i, n)
		}
		if n > 0 && pixels > math.MaxInt32/n {
			return nil, fmt.Errorf("image dimensions %v too large", img.Naxisn[:i])
		}
		pixels *= n
	}
	if v, ok := raw["BZERO"]; ok {
		bzero, err := parseFloat(v)
		if err != nil {
			return nil, fmt.Errorf("invalid BZERO '%s'", v)
		}
		img.Bzero = float32(bzero)
	}
	if v, ok := raw["BSCALE"]; ok {
		bscale, err := parseFloat(v)
		if err != nil {
			return nil, fmt.Errorf("invalid BSCALE '%s'", v)
		}
		img.Bscale = float32(bscale)
	}
	for k, v := range raw {
		if !isStructural(k) {
			img.Header[k] = v
		}
	}

	if err = img.readData(r, log); err != nil {
		return nil, err
	}
	return img, nil
}

func headerInt(h map[string]string, key string) (int, error) {
	v, ok := h[key]
	if !ok {
		return 0, fmt.Errorf("FITS header does not contain key %s", key)
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("FITS header key %s has non-integer value '%s'", key, v)
	}
	return i, nil
}

// Parses a FITS float, which may use D as exponent marker
func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.Replace(s, "D", "E", 1), 64)
}

const bufLen int = 16 * 1024 // input buffer length for reading from file

// Reads image data, converting from network byte order to float32 and applying Bzero and Bscale
func (img *Image) readData(r io.Reader, log *logrus.Entry) error {
	var decode func(b []byte) float64
	switch img.Bitpix {
	case 8:
		decode = func(b []byte) float64 { return float64(b[0]) }
	case 16:
		decode = func(b []byte) float64 { return float64(int16(binary.BigEndian.Uint16(b))) }
	case 32:
		decode = func(b []byte) float64 { return float64(int32(binary.BigEndian.Uint32(b))) }
	case 64:
		decode = func(b []byte) float64 { return float64(int64(binary.BigEndian.Uint64(b))) }
	case -32:
		decode = func(b []byte) float64 { return float64(math.Float32frombits(binary.BigEndian.Uint32(b))) }
	case -64:
		decode = func(b []byte) float64 { return math.Float64frombits(binary.BigEndian.Uint64(b)) }
	default:
		return fmt.Errorf("unknown BITPIX value %d", img.Bitpix)
	}
	if img.Bitpix == 32 || img.Bitpix == 64 || img.Bitpix == -64 {
		log.Warnf("Loss of precision converting %d-bit values to float32", img.Bitpix)
	}

	bytesPerValue := img.Bitpix / 8
	if bytesPerValue < 0 {
		bytesPerValue = -bytesPerValue
	}
	img.Data = make([]float32, img.Pixels())
	buf := make([]byte, bufLen-bufLen%bytesPerValue)
	bscale, bzero := float64(img.Bscale), float64(img.Bzero)

	for dataIndex := 0; dataIndex < len(img.Data); {
		bytesToRead := (len(img.Data) - dataIndex) * bytesPerValue
		if bytesToRead > len(buf) {
			bytesToRead = len(buf)
		}
		if _, err := io.ReadFull(r, buf[:bytesToRead]); err != nil {
			return fmt.Errorf("reading data at pixel %d: %w", dataIndex, err)
		}
		for i := 0; i < bytesToRead; i += bytesPerValue {
			img.Data[dataIndex] = float32(decode(buf[i:])*bscale + bzero)
			dataIndex++
		}
	}
	img.Bzero, img.Bscale = 0, 1 // reflect that data values incorporate these now
	return nil
}

// Reads header blocks up to and including the END line. Returns raw values as strings:
// T or F for booleans, the literal text for numbers, unescaped text for strings
func readHeader(r io.Reader, log *logrus.Entry) (map[string]string, error) {
	h := map[string]string{}
	buf := make([]byte, fitsBlockSize)
	subNames := reParser.SubexpNames()
	lastString := "" // key of the last string value, for CONTINUE lines

	for end := false; !end; {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("reading header: %w", err)
		}

		for lineNo := 0; lineNo < fitsBlockSize/HeaderLineSize && !end; lineNo++ {
			line := buf[lineNo*HeaderLineSize : (lineNo+1)*HeaderLineSize]
			subValues := reParser.FindSubmatch(line)
			if subValues == nil {
				log.Warnf("Cannot parse FITS header line '%s', ignoring", strings.TrimSpace(string(line)))
				continue
			}

			key := ""
			for i := 1; i < len(subNames); i++ {
				if subValues[i] == nil || len(subNames[i]) != 1 {
					continue
				}
				switch subNames[i][0] {
				case 'E': // end line
					end = true
				case 'k', 'K': // key, or HIERARCH key
					key = string(subValues[i])
					lastString = ""
				case 'b', 'i', 'f': // boolean, int, float
					h[key] = string(subValues[i])
				case 's': // string
					h[key] = unescape(string(subValues[i]))
					lastString = key
				case 'n': // continued string
					if lastString != "" && strings.HasSuffix(h[lastString], "&") {
						h[lastString] = strings.TrimSuffix(h[lastString], "&") + unescape(string(subValues[i]))
					}
				}
			}
		}
	}
	return h, nil
}

// Removes quote escaping and insignificant trailing blanks from a FITS string value
func unescape(s string) string {
	return strings.TrimRight(strings.ReplaceAll(s, "''", "'"), " ")
}

// Build regexp parser for FITS header lines
func compileRE() *regexp.Regexp {
	white := "\\s+"
	whiteOpt := "\\s*"
	whiteLine := whiteOpt

	rest := ".*"
	histLine := "HISTORY(?:" + white + rest + ")?"
	commLine := "COMMENT(?:" + white + rest + ")?"

	end := "(?P<E>END)"
	endLine := end + whiteOpt

	key := "(?P<k>[A-Z0-9_-]+)"
	hierKey := "HIERARCH" + white + "(?P<K>[^=]*[^=\\s])"
	equals := "="

	boo := "(?P<b>[TF])"
	inte := "(?P<i>[+-]?[0-9]+)"
	floa := "(?P<f>[+-]?(?:[0-9]*\\.[0-9]*(?:[ED][-+]?[0-9]+)?|[0-9]+[ED][-+]?[0-9]+))"
	stri := "'(?P<s>(?:[^']|'')*)'"
	val := "(?:" + boo + "|" + inte + "|" + floa + "|" + stri + ")"

	commOpt := "(?:/" + rest + ")?"
	keyLine := "(?:" + key + "|" + hierKey + ")" + whiteOpt + equals + whiteOpt + val + whiteOpt + commOpt
	contLine := "CONTINUE" + white + "'(?P<n>(?:[^']|'')*)'" + whiteOpt + commOpt

	// missing: complex int: (nr, nr)
	// missing: complex float: (nr, nr)

	lineRe := "^(?:" + whiteLine + "|" + histLine + "|" + commLine + "|" + contLine + "|" + keyLine + "|" + endLine + ")$"
	return regexp.MustCompile(lineRe)
}
