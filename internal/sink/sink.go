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
	"fmt"
	"strconv"

	"github.com/mlnoga/framereduce/internal/frame"
)

// A destination for reduction results. WriteHeader is called once before all results, Close once after
type Sink interface {
	WriteHeader(sources []string, numFrames int) error
	// Writes the result of one reduction method. Returns the file name written, if any
	WriteResult(method string, params map[string]string, f *frame.Frame) (string, error)
	Close() error
}

// Header keys written by sinks
const (
	KeyMethod    = "method"
	KeyNumFiles  = "nfiles"
	KeyNumFrames = "nframes"
)

// Builds the global header describing the merged sources
func sourcesHeader(sources []string, numFrames int) frame.Header {
	h := frame.Header{
		KeyNumFiles:  strconv.Itoa(len(sources)),
		KeyNumFrames: strconv.Itoa(numFrames),
	}
	pattern := fmt.Sprintf("merged_file_%%0%dd", len(strconv.Itoa(len(sources))))
	for i, s := range sources {
		h[fmt.Sprintf(pattern, i)] = s
	}
	return h
}

// Builds the header of a result from the global header, the method and its parameters
func resultHeader(global frame.Header, method string, params map[string]string) frame.Header {
	h := global.Clone()
	h[KeyMethod] = method
	for k, v := range params {
		h[k] = v
	}
	return h
}

// Collects results in memory, keyed by method
type Memory struct {
	Sources   []string
	NumFrames int
	Results   map[string]*frame.Frame
	Closed    bool

	global frame.Header
}

var _ Sink = (*Memory)(nil) // Compile time assertion: type implements the interface

func NewMemory() *Memory {
	return &Memory{Results: map[string]*frame.Frame{}, global: frame.Header{}}
}

func (m *Memory) WriteHeader(sources []string, numFrames int) error {
	m.Sources, m.NumFrames = append([]string(nil), sources...), numFrames
	m.global = sourcesHeader(sources, numFrames)
	return nil
}

// Stores a copy of the result, with the result header attached
func (m *Memory) WriteResult(method string, params map[string]string, f *frame.Frame) (string, error) {
	if m.Closed {
		return "", fmt.Errorf("sink closed")
	}
	res := f.Clone()
	res.Header = resultHeader(m.global, method, params)
	m.Results[method] = res
	return "", nil
}

func (m *Memory) Close() error {
	m.Closed = true
	return nil
}
