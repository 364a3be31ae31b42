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
	"errors"
	"fmt"
)

// Configuration errors: unsupported algorithm or source type, shape mismatches,
// invalid parameters. Fatal for the whole reduction
var ErrConfig = errors.New("configuration error")

// No frames were accepted by an algorithm, so there is nothing to reduce
var ErrNoData = errors.New("no data to reduce")

// Returns a new configuration error, which matches ErrConfig with errors.Is
func ConfigErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
