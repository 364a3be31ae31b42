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
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mlnoga/framereduce/internal/frame"
)

// Writes a frame with the given header to a FITS file with the given name.
// Creates/overwrites the file if necessary
func WriteFile(fileName string, f *frame.Frame, header frame.Header) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err = Write(writer, f, header); err != nil {
		return err
	}
	return writer.Flush()
}

// Writes a frame with the given header as 32-bit floating point FITS to an io.Writer.
// Header keys are sorted. Keys which are not valid FITS keywords use the HIERARCH convention
func Write(w io.Writer, f *frame.Frame, header frame.Header) error {
	// Build header in string buffer
	sb := strings.Builder{}
	writeBool(&sb, "SIMPLE", true, "FITS standard 4.0")
	writeInt(&sb, "BITPIX", -32, "32-bit floating point")
	writeInt(&sb, "NAXIS", 2, "[1] Number of axis")
	writeInt(&sb, "NAXIS1", f.Width, "[1] Axis size")
	writeInt(&sb, "NAXIS2", f.Height, "[1] Axis size")

	keys := make([]string, 0, len(header))
	for k := range header {
		if !isStructural(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeValue(&sb, k, header[k])
	}
	writeEnd(&sb)
	pad(&sb, sb.Len(), ' ')

	// Write header block(s)
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return err
	}

	// Write payload data, followed by zero padding to the block size
	if err := writeFloat32Array(w, f.Data); err != nil {
		return err
	}
	if rem := (len(f.Data) * 4) % fitsBlockSize; rem > 0 {
		if _, err := w.Write(make([]byte, fitsBlockSize-rem)); err != nil {
			return err
		}
	}
	return nil
}

var reKeyword = regexp.MustCompile("^[A-Z0-9_-]{1,8}$")

// Writes a header value. Numbers and booleans keep their type, everything else is a string
func writeValue(sb *strings.Builder, key, value string) {
	prefix := fmt.Sprintf("%-8s= ", key)
	if !reKeyword.MatchString(key) {
		prefix = fmt.Sprintf("HIERARCH %s = ", key)
	}
	if value == "T" || value == "F" {
		line(sb, fmt.Sprintf("%s%20s", prefix, value))
		return
	}
	if _, err := strconv.ParseInt(value, 10, 64); err == nil {
		line(sb, fmt.Sprintf("%s%20s", prefix, value))
		return
	}
	if v, err := strconv.ParseFloat(value, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
		line(sb, fmt.Sprintf("%s%20s", prefix, strconv.FormatFloat(v, 'G', -1, 64)))
		return
	}
	writeString(sb, prefix, value)
}

// Writes a FITS header boolean value
func writeBool(sb *strings.Builder, key string, value bool, comment string) {
	v := "F"
	if value {
		v = "T"
	}
	line(sb, fmt.Sprintf("%-8s= %20s / %s", key, v, comment))
}

// Writes a FITS header integer value
func writeInt(sb *strings.Builder, key string, value int, comment string) {
	line(sb, fmt.Sprintf("%-8s= %20d / %s", key, value, comment))
}

// Writes a FITS header string value, with escaping and continuations if necessary.
// Splits happen on unescaped characters, so quotes are never broken apart
func writeString(sb *strings.Builder, prefix, value string) {
	lead := prefix
	for {
		room := HeaderLineSize - len(lead) - 2 // opening and closing quote
		if room < 2 {
			room = 2
		}
		if esc := escape(value); len(esc) <= room {
			line(sb, lead+"'"+esc+"'")
			return
		}
		chunk, rest := splitEscaped(value, room-1) // leave room for the continuation marker
		line(sb, lead+"'"+chunk+"&'")
		value, lead = rest, "CONTINUE  "
	}
}

func escape(s string) string { return strings.ReplaceAll(s, "'", "''") }

// Returns the longest prefix of s whose escaped form fits into n bytes, escaped, and the unescaped rest
func splitEscaped(s string, n int) (chunk, rest string) {
	size := 0
	for i, c := range s {
		w := len(string(c))
		if c == '\'' {
			w = 2
		}
		if size+w > n {
			return escape(s[:i]), s[i:]
		}
		size += w
	}
	return escape(s), ""
}

// Appends a header line, padded or truncated to the line size
func line(sb *strings.Builder, l string) {
	if len(l) > HeaderLineSize {
		l = l[:HeaderLineSize]
	}
	sb.WriteString(l)
	sb.WriteString(strings.Repeat(" ", HeaderLineSize-len(l)))
}

// Writes a FITS header end record
func writeEnd(sb *strings.Builder) {
	line(sb, "END")
}

// Pads the current block with the given byte if necessary
func pad(sb *strings.Builder, length int, b byte) {
	if rem := length % fitsBlockSize; rem > 0 {
		sb.WriteString(strings.Repeat(string(b), fitsBlockSize-rem))
	}
}

// Writes FITS binary body data in network byte order
func writeFloat32Array(w io.Writer, data []float32) error {
	buf := make([]byte, bufLen)

	for block := 0; block < len(data); block += (bufLen >> 2) {
		size := len(data) - block
		if size > (bufLen >> 2) {
			size = (bufLen >> 2)
		}
		for offset := 0; offset < size; offset++ {
			binary.BigEndian.PutUint32(buf[offset<<2:], math.Float32bits(data[block+offset]))
		}
		if _, err := w.Write(buf[:(size << 2)]); err != nil {
			return err
		}
	}
	return nil
}
