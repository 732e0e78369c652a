//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd
// +build !linux,!darwin,!freebsd,!netbsd,!openbsd

package render

import "errors"

func terminalSize(fd uintptr) (cols, rows int, err error) {
	return 0, 0, errors.New("terminal size not available")
}
