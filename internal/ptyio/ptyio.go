//go:build darwin || linux

// Package ptyio exposes a pseudo-terminal pair whose master side is an
// io.ReadWriteCloser, so a byte stream can be presented to other programs
// as a serial port. It creates the pair with github.com/creack/pty.
//
//	port, err := ptyio.Open(&ptyio.Options{Link: "/tmp/ttyBLE"})
//	if err != nil {
//	    return err
//	}
//	defer port.Close()
//	// port.Name() -> "/dev/pts/X"; /tmp/ttyBLE points at it
//	go io.Copy(port, stream)
//	io.Copy(stream, port)
package ptyio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// DefaultPollTimeoutMs bounds how long Read and Write wait for readiness
// before re-checking for Close. It sets the shutdown latency.
const DefaultPollTimeoutMs = 50

// ErrClosed is returned by operations on a closed Port.
var ErrClosed = errors.New("pty closed")

// Options configures Open. A nil *Options uses the defaults.
type Options struct {
	// Link, when set, is a symlink created to the slave device and removed on Close.
	Link          string
	PollTimeoutMs int
	Logger        *logrus.Logger
}

// Port is the master side of a pseudo-terminal pair.
type Port struct {
	logger        *logrus.Logger
	master        *os.File
	slave         *os.File
	fd            int
	name          string
	link          string
	pollTimeoutMs int

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	readBytes  atomic.Uint64
	writeBytes atomic.Uint64
}

// noopLogger is a shared logger instance that discards all output.
var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Open creates a raw-mode pseudo-terminal pair.
func Open(opts *Options) (*Port, error) {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger
	}
	pollTimeout := opts.PollTimeoutMs
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeoutMs
	}

	master, slave, err := createPTY()
	if err != nil {
		return nil, err
	}

	// slave stays open so the master never sees EIO when peers come and go
	p := &Port{
		logger:        logger,
		master:        master,
		slave:         slave,
		fd:            int(master.Fd()),
		name:          slave.Name(),
		pollTimeoutMs: pollTimeout,
	}

	if opts.Link != "" {
		if err := replaceSymlink(p.name, opts.Link); err != nil {
			_ = p.Close()
			return nil, err
		}
		p.link = opts.Link
	}

	logger.WithFields(logrus.Fields{
		"tty":  p.name,
		"link": p.link,
	}).Info("PTY opened")
	return p, nil
}

func createPTY() (master *os.File, slave *os.File, err error) {
	master, slave, err = pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	cleanup := func(step string, cause error) error {
		ptyPath := slave.Name()
		var cleanupErrs []error
		if closeErr := master.Close(); closeErr != nil {
			cleanupErrs = append(cleanupErrs, fmt.Errorf("close PTY(ptyx): %w", closeErr))
		}
		if closeErr := slave.Close(); closeErr != nil {
			cleanupErrs = append(cleanupErrs, fmt.Errorf("close PTY(tty): %w", closeErr))
		}
		if len(cleanupErrs) > 0 {
			return fmt.Errorf("failed to set %s %s: %w (cleanup errors: %v)", step, ptyPath, cause, cleanupErrs)
		}
		return fmt.Errorf("failed to set %s %s: %w", step, ptyPath, cause)
	}

	// Set PTY slave to raw mode so bytes pass through untranslated
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return nil, nil, cleanup("PTY(tty) raw mode on", err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		return nil, nil, cleanup("PTY(ptyx) nonblocking mode on", err)
	}
	return master, slave, nil
}

func replaceSymlink(target, link string) error {
	if fi, err := os.Lstat(link); err == nil {
		if fi.Mode()&os.ModeSymlink == 0 {
			return fmt.Errorf("refusing to replace %s: not a symlink", link)
		}
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("remove stale link %s: %w", link, err)
		}
	}
	if err := os.Symlink(target, link); err != nil {
		return fmt.Errorf("create link %s: %w", link, err)
	}
	return nil
}

// Name returns the slave device path other programs open.
func (p *Port) Name() string { return p.name }

// Link returns the symlink path, or "" when none was requested.
func (p *Port) Link() string { return p.link }

// Stats returns the total bytes read from and written to the master.
func (p *Port) Stats() (read, written uint64) {
	return p.readBytes.Load(), p.writeBytes.Load()
}

// Read blocks until the slave side produced data or the Port is closed.
func (p *Port) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	pollFd := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}

	for {
		if p.closed.Load() {
			return 0, ErrClosed
		}
		n, err := p.master.Read(b)
		if n > 0 {
			p.readBytes.Add(uint64(n))
			return n, nil
		}
		switch {
		case err == nil, errors.Is(err, syscall.EINTR):
			continue
		case errors.Is(err, syscall.EAGAIN), errors.Is(err, os.ErrDeadlineExceeded):
			if err := p.wait(pollFd); err != nil {
				return 0, err
			}
		default:
			return 0, p.readWriteErr(err)
		}
	}
}

// Write blocks until all of b was handed to the slave side or the Port is closed.
func (p *Port) Write(b []byte) (int, error) {
	pollFd := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLOUT}}

	written := 0
	for written < len(b) {
		if p.closed.Load() {
			return written, ErrClosed
		}
		n, err := p.master.Write(b[written:])
		if n > 0 {
			written += n
			p.writeBytes.Add(uint64(n))
		}
		switch {
		case err == nil, errors.Is(err, syscall.EINTR):
		case errors.Is(err, syscall.EAGAIN), errors.Is(err, os.ErrDeadlineExceeded):
			if err := p.wait(pollFd); err != nil {
				return written, err
			}
		default:
			return written, p.readWriteErr(err)
		}
	}
	return written, nil
}

// readWriteErr maps errors caused by Close to ErrClosed. Closing the fds
// under a blocked call can surface as EBADF, os.ErrClosed or EIO.
func (p *Port) readWriteErr(err error) error {
	if p.closed.Load() || errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EBADF) {
		return ErrClosed
	}
	return err
}

func (p *Port) wait(pollFd []unix.PollFd) error {
	_, err := unix.Poll(pollFd, p.pollTimeoutMs)
	if p.closed.Load() {
		return ErrClosed
	}
	if err != nil && !errors.Is(err, syscall.EINTR) {
		return fmt.Errorf("poll PTY(ptyx): %w", err)
	}
	return nil
}

// Close removes the link and closes both ends. Blocked Read and Write calls
// return ErrClosed within the poll timeout.
func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)

		var errs []error
		if p.link != "" {
			if err := os.Remove(p.link); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Errorf("remove link %s: %w", p.link, err))
			}
		}
		if err := p.master.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close PTY(ptyx): %w", err))
		}
		if err := p.slave.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close PTY(tty): %w", err))
		}
		p.closeErr = errors.Join(errs...)
		p.logger.WithField("tty", p.name).Info("PTY closed")
	})
	return p.closeErr
}
