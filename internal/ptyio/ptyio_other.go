//go:build !darwin && !linux

package ptyio

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// DefaultPollTimeoutMs bounds how long Read and Write wait for readiness.
const DefaultPollTimeoutMs = 50

// ErrClosed is returned by operations on a closed Port.
var ErrClosed = errors.New("pty closed")

// ErrUnsupported is returned by Open on platforms without pseudo-terminals.
var ErrUnsupported = errors.New("pseudo-terminals are not supported on this platform")

// Options configures Open.
type Options struct {
	Link          string
	PollTimeoutMs int
	Logger        *logrus.Logger
}

// Port is unavailable on this platform.
type Port struct{}

func Open(*Options) (*Port, error) { return nil, ErrUnsupported }

func (*Port) Name() string                  { return "" }
func (*Port) Link() string                  { return "" }
func (*Port) Stats() (read, written uint64) { return 0, 0 }
func (*Port) Read([]byte) (int, error)      { return 0, ErrClosed }
func (*Port) Write([]byte) (int, error)     { return 0, ErrClosed }
func (*Port) Close() error                  { return nil }
