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
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/image/tiff"

	"github.com/mlnoga/framereduce/internal/fits"
	"github.com/mlnoga/framereduce/internal/frame"
	"github.com/mlnoga/framereduce/internal/ops"
)

func newTestContext() *ops.Context {
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return ops.NewContext(logger)
}

func gray16(width, height int, values ...uint16) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for i, v := range values {
		img.SetGray16(i%width, i/width, color.Gray16{v})
	}
	return img
}

func writeFile(t *testing.T, name string, write func(f *os.File) error) {
	t.Helper()
	f, err := os.Create(name)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	defer f.Close()
	if err := write(f); err != nil {
		t.Fatalf("write %s: %s", name, err)
	}
}

func TestMemory(t *testing.T) {
	a := frame.New(1, 1, []float32{1})
	b := frame.New(1, 1, []float32{2})
	b.Header = frame.Header{"own": "yes"}
	m := NewMemory("mem", frame.Header{"src": "1"}, a, b)

	if m.NumFrames() != 2 || m.Name() != "mem" {
		t.Errorf("frames %d name %s; want 2, mem", m.NumFrames(), m.Name())
	}
	f0, err := m.Frame(0)
	if err != nil {
		t.Fatalf("Frame: %s", err)
	}
	if f0.Name != "mem#0" || f0.Header["src"] != "1" {
		t.Errorf("frame 0 name %s header %v; want mem#0 with source header", f0.Name, f0.Header)
	}
	f1, _ := m.Frame(1)
	if f1.Header["own"] != "yes" {
		t.Errorf("frame 1 header %v; want own header", f1.Header)
	}
	if a.Name != "" {
		t.Errorf("original frame renamed to %s", a.Name)
	}
	if _, err := m.Frame(2); err == nil {
		t.Errorf("frame 2 of 2 returned without error")
	}

	single := NewMemory("one", nil, a)
	if f, _ := single.Frame(0); f.Name != "one" {
		t.Errorf("single frame name %s; want one", f.Name)
	}
}

func TestStack3D(t *testing.T) {
	s, err := NewStack3D("cube", nil, [][][]float32{
		{{1, 2}, {3, 4}},
		{{5, 6}, {7, 8}},
	})
	if err != nil {
		t.Fatalf("NewStack3D: %s", err)
	}
	f, _ := s.Frame(1)
	if f.Width != 2 || f.Height != 2 || f.Data[2] != 7 {
		t.Errorf("frame 1 %s %v; want 2x2 with data[2]=7", f.DimensionsToString(), f.Data)
	}

	for _, bad := range [][][][]float32{
		{{{1, 2}, {3}}},
		{{{1, 2}}, {{1, 2}, {3, 4}}},
		{{}},
	} {
		if _, err := NewStack3D("bad", nil, bad); !errors.Is(err, ops.ErrConfig) {
			t.Errorf("err=%v; want configuration error", err)
		}
	}
}

func TestNewFilePNGWithSidecar(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "img_0001.png")
	writeFile(t, name, func(f *os.File) error { return png.Encode(f, gray16(2, 2, 0, 1000, 65535, 7)) })
	sidecar := "exposure: 1.5\ncounter_mne: [a, b, mon]\ncounter_pos: 1 2 3\n"
	if err := os.WriteFile(name+SidecarSuffix, []byte(sidecar), 0644); err != nil {
		t.Fatalf("WriteFile: %s", err)
	}

	c := newTestContext()
	src, err := NewFile(name, c.Entry())
	if err != nil {
		t.Fatalf("NewFile: %s", err)
	}
	f, _ := src.Frame(0)
	for i, want := range []float32{0, 1000, 65535, 7} {
		if f.Data[i] != want {
			t.Errorf("data[%d]=%f; want %f", i, f.Data[i], want)
		}
	}
	want := frame.Header{"exposure": "1.5", "counter_mne": "a b mon", "counter_pos": "1 2 3"}
	for k, v := range want {
		if f.Header[k] != v {
			t.Errorf("header[%s]='%s'; want '%s'", k, f.Header[k], v)
		}
	}
}

func TestNewFileTIFF(t *testing.T) {
	name := filepath.Join(t.TempDir(), "img.tiff")
	writeFile(t, name, func(f *os.File) error { return tiff.Encode(f, gray16(3, 1, 10, 20, 30), nil) })
	src, err := NewFile(name, newTestContext().Entry())
	if err != nil {
		t.Fatalf("NewFile: %s", err)
	}
	f, _ := src.Frame(0)
	if f.Width != 3 || f.Height != 1 || f.Data[2] != 30 {
		t.Errorf("frame %s %v; want 3x1 ending in 30", f.DimensionsToString(), f.Data)
	}
	if len(src.Header()) != 0 {
		t.Errorf("header %v; want empty", src.Header())
	}
}

func TestNewFileFITS(t *testing.T) {
	name := filepath.Join(t.TempDir(), "dark.fits")
	if err := fits.WriteFile(name, frame.New(2, 1, []float32{-1.5, 2}), frame.Header{"mon": "4"}); err != nil {
		t.Fatalf("fits.WriteFile: %s", err)
	}
	src, err := NewFile(name, newTestContext().Entry())
	if err != nil {
		t.Fatalf("NewFile: %s", err)
	}
	f, _ := src.Frame(0)
	if f.Data[0] != -1.5 || f.Header["mon"] != "4" || f.Name != name {
		t.Errorf("frame %v header %v name %s", f.Data, f.Header, f.Name)
	}
}

func TestNewFileErrors(t *testing.T) {
	c := newTestContext()
	if _, err := NewFile("data.edf", c.Entry()); !errors.Is(err, ops.ErrConfig) {
		t.Errorf("err=%v; want configuration error", err)
	}
	if _, err := NewFile(filepath.Join(t.TempDir(), "missing.png"), c.Entry()); err == nil {
		t.Errorf("missing file opened without error")
	}

	name := filepath.Join(t.TempDir(), "bad.png")
	writeFile(t, name, func(f *os.File) error { return png.Encode(f, gray16(1, 1, 1)) })
	os.WriteFile(name+SidecarSuffix, []byte("nested:\n  a: 1\n"), 0644)
	if _, err := NewFile(name, c.Entry()); err == nil {
		t.Errorf("nested sidecar accepted")
	}
}

func TestFormat(t *testing.T) {
	for name, want := range map[string]string{
		"a.fits": "fits", "b.FIT": "fits", "c.fts.gz": "fits", "d.tif": "tiff", "e.TIFF": "tiff", "f.png": "png",
	} {
		if got, err := Format(name); err != nil || got != want {
			t.Errorf("Format(%s)=%s, %v; want %s", name, got, err, want)
		}
	}
}

func TestOpenAllKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	var names []string
	for i := 0; i < 5; i++ {
		name := filepath.Join(dir, string(rune('a'+i))+".png")
		v := uint16(i)
		writeFile(t, name, func(f *os.File) error { return png.Encode(f, gray16(1, 1, v)) })
		names = append(names, name)
	}
	c := newTestContext()
	c.MaxThreads = 2
	srcs, err := OpenAll(names, c)
	if err != nil {
		t.Fatalf("OpenAll: %s", err)
	}
	if CountFrames(srcs) != 5 {
		t.Errorf("frames %d; want 5", CountFrames(srcs))
	}
	frames, err := ReadAll(srcs)
	if err != nil {
		t.Fatalf("ReadAll: %s", err)
	}
	for i, f := range frames {
		if f.Data[0] != float32(i) || Names(srcs)[i] != names[i] {
			t.Errorf("source %d: %s value %f", i, Names(srcs)[i], f.Data[0])
		}
	}

	globbed, err := ExpandGlobs([]string{filepath.Join(dir, "*.png"), "missing.png"})
	if err != nil {
		t.Fatalf("ExpandGlobs: %s", err)
	}
	if len(globbed) != 6 || globbed[5] != "missing.png" {
		t.Errorf("globbed %v; want 5 files and missing.png", globbed)
	}

	if _, err := OpenAll(append(names, "x.edf"), c); !errors.Is(err, ops.ErrConfig) {
		t.Errorf("err=%v; want configuration error", err)
	}
}
