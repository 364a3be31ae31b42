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

package rest

import (
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mlnoga/framereduce/internal/frame"
	"github.com/mlnoga/framereduce/internal/ops"
	"github.com/mlnoga/framereduce/internal/ops/average"
	"github.com/mlnoga/framereduce/internal/ops/stack"
	"github.com/mlnoga/framereduce/internal/source"
)

// Serves the REST API on the given address until the listener fails
func Serve(addr string, log *logrus.Logger, maxThreads int) error {
	log.Infof("Serving REST API on %s", addr)
	return NewRouter(log, maxThreads).Run(addr)
}

// Creates the router for the REST API. Every request runs with its own context and run ID
func NewRouter(log *logrus.Logger, maxThreads int) *gin.Engine {
	s := &server{log: log, maxThreads: maxThreads}
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests)
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.GET("/filters", getFilters)
			v1.POST("/reduce", s.postReduce)
		}
	}
	return r
}

type server struct {
	log        *logrus.Logger
	maxThreads int
}

func (s *server) newContext() *ops.Context {
	c := ops.NewContext(s.log)
	if s.maxThreads > 0 {
		c.MaxThreads = s.maxThreads
	}
	return c
}

func (s *server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.WithFields(logrus.Fields{
		"status":  c.Writer.Status(),
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"latency": time.Since(start).String(),
	}).Info("Request")
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

func getFilters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"filters":      average.Filters,
		"accumulators": stack.FactoryNames(stack.DefaultFactories()),
	})
}

// A frame in a request, given as rows of values
type frameArgs struct {
	Name   string       `json:"name"`
	Header frame.Header `json:"header"`
	Data   [][]float32  `json:"data" binding:"required"`
}

type postReduceArgs struct {
	Options *average.Options `json:"options"`
	Frames  []frameArgs      `json:"frames" binding:"required"`
	Darks   []frameArgs      `json:"darks"`
	Flats   []frameArgs      `json:"flats"`
}

type postReduceResult struct {
	RunID       string           `json:"run"`
	Method      string           `json:"method"`
	Parameters  stack.Parameters `json:"parameters"`
	NumFrames   int              `json:"numFrames"`
	NumAccepted int              `json:"numAccepted"`
	Data        [][]*float32     `json:"data"` // NaN and infinite values are null
}

func (s *server) postReduce(c *gin.Context) {
	var args postReduceArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if args.Options == nil {
		args.Options = average.NewOptionsDefault()
	}
	// results are returned in the response, never written to the server's file system
	args.Options.Output, args.Options.Format = "", ""

	images, err := toSources("frame", args.Frames)
	if err == nil && len(images) == 0 {
		err = ops.ErrNoData
	}
	var darks, flats []source.Source
	if err == nil {
		darks, err = toSources("dark", args.Darks)
	}
	if err == nil {
		flats, err = toSources("flat", args.Flats)
	}
	if err != nil {
		abortWithError(c, err)
		return
	}

	ctx := s.newContext()
	a, _, err := average.NewAverageFromOptions(args.Options, images, darks, flats, ctx)
	if err != nil {
		abortWithError(c, err)
		return
	}
	res, err := a.Process()
	if err != nil {
		abortWithError(c, err)
		return
	}
	r := res[0]
	c.JSON(http.StatusOK, postReduceResult{
		RunID:       r.RunID,
		Method:      r.Method,
		Parameters:  r.Parameters,
		NumFrames:   r.NumFrames,
		NumAccepted: r.NumAccepted,
		Data:        toRows(r.Frame),
	})
}

func toSources(kind string, args []frameArgs) ([]source.Source, error) {
	srcs := make([]source.Source, len(args))
	for i, fa := range args {
		f, err := frame.FromRows(fa.Data)
		if err != nil {
			return nil, ops.ConfigErrorf("%s %d: %s", kind, i, err.Error())
		}
		srcs[i] = source.NewMemory(fa.Name, fa.Header, f)
	}
	return srcs, nil
}

func toRows(f *frame.Frame) [][]*float32 {
	rows := make([][]*float32, f.Height)
	for y, row := range f.Rows() {
		rows[y] = make([]*float32, len(row))
		for x := range row {
			if v := row[x]; !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0) {
				rows[y][x] = &v
			}
		}
	}
	return rows
}

// Maps configuration errors to 400, missing data to 422 and everything else to 500
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, ops.ErrConfig) {
		status = http.StatusBadRequest
	} else if errors.Is(err, ops.ErrNoData) {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
