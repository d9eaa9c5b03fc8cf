//go:build !linux

package device

import (
	"errors"
	"io/fs"
)

func classifyErrno(err error) Kind {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return KindPermission
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrClosed):
		return KindDisconnected
	}
	return KindUnknown
}
