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
	"fmt"
	"strconv"
	"strings"

	"github.com/mlnoga/framereduce/internal/frame"
)

// Raised when monitor information is not found in a frame header, or is not valid
type MonitorNotFoundError struct {
	Key    string
	Reason string
}

func (e *MonitorNotFoundError) Error() string {
	return fmt.Sprintf("monitor %q not found: %s", e.Key, e.Reason)
}

// Returns the monitor value from a frame header.
//
// A plain key is looked up directly. A key of the form base/mnemonic, e.g. counter/bmon,
// locates mnemonic in the space-separated list under base_mne, and returns the value at
// the same position in the space-separated list under base_pos.
func MonitorValue(h frame.Header, key string) (float32, error) {
	var value string
	if base, mnemonic, ok := strings.Cut(key, "/"); ok {
		mneKey, posKey := base+"_mne", base+"_pos"
		mnes, ok := h.Get(mneKey)
		if !ok {
			return 0, &MonitorNotFoundError{key, fmt.Sprintf("mnemonic key '%s' not in header", mneKey)}
		}
		poss, ok := h.Get(posKey)
		if !ok {
			return 0, &MonitorNotFoundError{key, fmt.Sprintf("position key '%s' not in header", posKey)}
		}

		index := -1
		for i, m := range strings.Fields(mnes) {
			if m == mnemonic {
				index = i
				break
			}
		}
		if index < 0 {
			return 0, &MonitorNotFoundError{key, fmt.Sprintf("mnemonic '%s' not in '%s'", mnemonic, mneKey)}
		}
		positions := strings.Fields(poss)
		if index >= len(positions) {
			return 0, &MonitorNotFoundError{key, fmt.Sprintf("'%s' has %d values, need index %d", posKey, len(positions), index)}
		}
		value = positions[index]
	} else {
		v, found := h.Get(key)
		if !found {
			return 0, &MonitorNotFoundError{key, "key not in header"}
		}
		value = v
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, &MonitorNotFoundError{key, fmt.Sprintf("value '%s' is not a number", value)}
	}
	return float32(v), nil
}
