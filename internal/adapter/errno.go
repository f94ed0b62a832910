package adapter

import (
	"errors"
	"syscall"

	"github.com/rascalking/javanicus/internal/stagingcache"
	"github.com/rascalking/javanicus/internal/webhdfs"
)

// errnoForRemote maps a remote.* error onto the POSIX errno the caller
// expects. op identifies the calling upcall so the generic fallback can
// be logged with useful context.
func errnoForRemote(log logf, op string, err error) syscall.Errno {
	if err == nil {
		return 0
	}

	switch {
	case errors.Is(err, webhdfs.ErrMissingLocation):
		return syscall.EIO
	case webhdfs.IsFalseResult(err):
		return syscall.EREMOTEIO
	}

	var werr *webhdfs.Error
	if errors.As(err, &werr) {
		switch werr.Kind {
		case webhdfs.KindNotFound:
			return syscall.ENOENT
		case webhdfs.KindPermissionDenied:
			return syscall.EPERM
		case webhdfs.KindDirectoryNotEmpty:
			return syscall.ENOTEMPTY
		}
	}

	// Any unclassified remote error: logged and surfaced as a generic
	// I/O failure.
	log("%s: unclassified remote error: %v", op, err)
	return syscall.EIO
}

// errnoForCache maps a stagingcache error onto a POSIX errno. The only
// cache-level condition the adapter needs to translate is the duplicate
// open precondition.
func errnoForCache(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, stagingcache.ErrAlreadyOpen):
		return syscall.EIO
	default:
		return syscall.EIO
	}
}

// logf is the minimal logging shape errnoForRemote needs, satisfied by
// *logrus.Entry's Errorf.
type logf func(format string, args ...interface{})
