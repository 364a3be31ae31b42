//go:build linux || darwin

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
	"fmt"
	"syscall"

	"github.com/sirupsen/logrus"
)

// Secures the current process by creating a chroot environment
// (requires root) and changing the user ID to something without
// elevated rights. An empty chroot or negative setuid skips that step
func MakeSandbox(chroot string, setuid int, log *logrus.Logger) error {
	if len(chroot) > 0 {
		if err := syscall.Chroot(chroot); err != nil {
			return fmt.Errorf("chroot to %s: %w", chroot, err)
		}
		if err := syscall.Chdir("/"); err != nil {
			return fmt.Errorf("chdir to new root: %w", err)
		}
		log.Infof("Changed root to %s", chroot)
	}
	if setuid >= 0 {
		if err := syscall.Setuid(setuid); err != nil {
			return fmt.Errorf("setuid %d: %w", setuid, err)
		}
		log.Infof("Changed user ID to %d", setuid)
	}
	return nil
}
