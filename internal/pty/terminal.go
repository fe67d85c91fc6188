package pty

import (
	"os"

	"golang.org/x/sys/unix"
)

// pollable returns a non-blocking copy of the pty master registered with the
// runtime poller, so read and write deadlines apply and Close wakes a blocked
// Read. f is closed in every case. Calling f.Fd() leaves f in blocking mode,
// which is why the copy is made from a fresh descriptor.
func pollable(f *os.File) (*os.File, error) {
	defer f.Close()

	fd, err := unix.FcntlInt(f.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return os.NewFile(uintptr(fd), f.Name()), nil
}

// setWinsize resizes the terminal without going through Fd, which would put
// the descriptor back into blocking mode.
func setWinsize(f *os.File, cols, rows uint16) error {
	conn, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var ioctlErr error
	if err := conn.Control(func(fd uintptr) {
		ioctlErr = unix.IoctlSetWinsize(int(fd), unix.TIOCSWINSZ, &unix.Winsize{Row: rows, Col: cols})
	}); err != nil {
		return err
	}
	return ioctlErr
}
