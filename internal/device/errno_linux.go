//go:build linux

package device

import (
	"errors"

	"golang.org/x/sys/unix"
)

func classifyErrno(err error) Kind {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return KindUnknown
	}
	switch errno {
	case unix.ENODEV, unix.ENXIO, unix.ESHUTDOWN, unix.ENOMEDIUM, unix.ENOENT:
		return KindDisconnected
	case unix.EACCES, unix.EPERM, unix.EROFS:
		return KindPermission
	case unix.EIO, unix.EAGAIN, unix.EINTR, unix.ETIMEDOUT, unix.EBUSY:
		return KindTransient
	}
	return KindUnknown
}
