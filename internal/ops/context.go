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

package ops

import (
	"io"
	"runtime"

	"github.com/google/uuid"
	"github.com/pbnjay/memory"
	"github.com/sirupsen/logrus"
)

// An execution context for reductions
type Context struct {
	Log           *logrus.Logger
	RunID         string // Identifies one reduction run in logs and result provenance
	MemoryMB      int    // memory.TotalMemory()/1024/1024
	StackMemoryMB int    // MemoryMB*7/10
	MaxThreads    int    `json:"maxThreads"`
}

func NewContext(log *logrus.Logger) *Context {
	if log == nil {
		log = logrus.StandardLogger()
	}
	memoryMB := int(memory.TotalMemory() / 1024 / 1024)
	return &Context{
		Log:           log,
		RunID:         uuid.NewString(),
		MemoryMB:      memoryMB,
		StackMemoryMB: memoryMB * 7 / 10,
		MaxThreads:    runtime.GOMAXPROCS(0),
	}
}

// Returns a log entry tagged with the run ID
func (c *Context) Entry() *logrus.Entry {
	return c.Log.WithField("run", c.RunID)
}

// Creates a logger writing to out with the given level name, e.g. "debug", "info" or "warn".
// Uses a JSON formatter if asJSON is set, else plain text
func NewLogger(out io.Writer, level string, asJSON bool) (*logrus.Logger, error) {
	l := logrus.New()
	l.SetOutput(out)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l.SetLevel(lvl)
	if asJSON {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableQuote: true})
	}
	return l, nil
}
