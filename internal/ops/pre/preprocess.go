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

package pre

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mlnoga/framereduce/internal/frame"
	"github.com/mlnoga/framereduce/internal/ops"
)

// Per-frame corrections, applied in fixed order: saturated pixel removal,
// dark subtraction, flat division and monitor normalization. Each step is optional
type Correction struct {
	Saturation *Saturation
	Dark       *frame.Frame
	Flat       *frame.Frame // must be free of values <=0, see PrepareFlat
	MonitorKey string
}

// Applies the correction to the given source data, and returns a new corrected frame.
// The input frame is left unchanged. The header is used for monitor lookup.
// Returns nil without error if the frame must be skipped because its monitor value
// could not be resolved.
func (op *Correction) Apply(f *frame.Frame, header frame.Header, c *ops.Context) (result *frame.Frame, err error) {
	result = f.Clone()

	if op.Saturation.Active() {
		if n := op.Saturation.Apply(result); n > 0 {
			c.Entry().WithField("frame", f.Name).Debugf("%d: Removed %d saturated pixels (%.2f%%)",
				f.ID, n, 100.0*float32(n)/float32(result.Pixels()))
		}
	}

	if op.Dark != nil {
		if !frame.SameShape(result, op.Dark) {
			return nil, ops.ConfigErrorf("%d: frame dimensions %s differ from dark dimensions %s",
				f.ID, result.DimensionsToString(), op.Dark.DimensionsToString())
		}
		Subtract(result.Data, result.Data, op.Dark.Data)
	}

	if op.Flat != nil {
		if !frame.SameShape(result, op.Flat) {
			return nil, ops.ConfigErrorf("%d: frame dimensions %s differ from flat dimensions %s",
				f.ID, result.DimensionsToString(), op.Flat.DimensionsToString())
		}
		Divide(result.Data, result.Data, op.Flat.Data)
	}

	if op.MonitorKey != "" {
		monitor, err := MonitorValue(header, op.MonitorKey)
		if err != nil {
			var mnf *MonitorNotFoundError
			if errors.As(err, &mnf) {
				c.Entry().WithFields(logrus.Fields{"frame": f.Name, "id": f.ID}).
					Warnf("Monitor not found, data skipped. Cause: %s", err.Error())
				return nil, nil
			}
			return nil, err
		}
		if monitor == 0 {
			c.Entry().WithField("frame", f.Name).Debugf("%d: Monitor value is zero", f.ID)
		}
		DivideScalar(result.Data, result.Data, monitor)
	}
	return result, nil
}

// Prepares a flat field for division. Copies the raw flat, subtracts the dark if
// requested and available, and replaces all values <=0 with 1
func PrepareFlat(rawFlat, dark *frame.Frame, correctFromDark bool, c *ops.Context) (*frame.Frame, error) {
	if rawFlat == nil {
		return nil, nil
	}
	flat := rawFlat.Clone()
	if correctFromDark {
		if dark != nil {
			if !frame.SameShape(flat, dark) {
				return nil, ops.ConfigErrorf("flat dimensions %s differ from dark dimensions %s",
					flat.DimensionsToString(), dark.DimensionsToString())
			}
			Subtract(flat.Data, flat.Data, dark.Data)
		} else {
			c.Entry().Debug("No dark. Flat correction using dark skipped")
		}
	}
	replaced := 0
	for i, d := range flat.Data {
		if d <= 0 {
			flat.Data[i] = 1
			replaced++
		}
	}
	if replaced > 0 {
		c.Entry().Debugf("Replaced %d flat values <=0 with 1", replaced)
	}
	return flat, nil
}

// Computes the element-wise difference of arrays a and b and stores in array c, that is, c[i]=a[i]-b[i]
func Subtract(c, a, b []float32) {
	for i := range c {
		c[i] = a[i] - b[i]
	}
}

// Computes the element-wise division of arrays a and b and stores in array c, that is, c[i]=a[i]/b[i]
func Divide(c, a, b []float32) {
	for i := range c {
		c[i] = a[i] / b[i]
	}
}

// Divides array a by scalar s and stores in array c, that is, c[i]=a[i]/s
func DivideScalar(c, a []float32, s float32) {
	for i := range c {
		c[i] = a[i] / s
	}
}

func (op *Correction) String() string {
	return fmt.Sprintf("saturation=%v dark=%v flat=%v monitor='%s'",
		op.Saturation.Active(), op.Dark != nil, op.Flat != nil, op.MonitorKey)
}
