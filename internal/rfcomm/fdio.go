//go:build linux

package rfcomm

import (
	"errors"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// errPollTimeout is returned by fdIO.Read when no data arrived within
// the 100ms receive window (§4.F "non-blocking reads with a 100ms
// receive window"); it is not a transport failure.
var errPollTimeout = errors.New("rfcomm: poll timeout")

const pollWindowMillis = 100

// fdIO adapts a raw accepted RFCOMM file descriptor to rawIO. Close is
// idempotent: the accept loop's error paths and the session's own
// cleanup may both call it.
type fdIO struct {
	fd     int
	closed atomic.Bool
}

func newFDIO(fd int) *fdIO {
	return &fdIO{fd: fd}
}

func (f *fdIO) Read(p []byte) (int, error) {
	pfd := []unix.PollFd{{Fd: int32(f.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, pollWindowMillis)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, errPollTimeout
		}
		return 0, err
	}
	if n == 0 {
		return 0, errPollTimeout
	}
	return unix.Read(f.fd, p)
}

func (f *fdIO) Write(p []byte) (int, error) {
	return unix.Write(f.fd, p)
}

func (f *fdIO) Close() error {
	if f.closed.CompareAndSwap(false, true) {
		return unix.Close(f.fd)
	}
	return nil
}
