package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleserial/pkg/config"
	"github.com/srg/bleserial/pkg/serial"
)

// signalContext returns a context cancelled on Ctrl+C or SIGTERM.
func signalContext(logger *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received interrupt signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func newScanner(cfg *config.Config, logger *logrus.Logger) (*serial.Scanner, error) {
	s, err := serial.NewScanner(cfg.ScannerOptions(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE scanner: %w", err)
	}
	return s, nil
}

// findDevice scans until address advertises a serial service. A zero
// timeout scans until ctx is done.
func findDevice(ctx context.Context, s *serial.Scanner, address string, timeout time.Duration) (*serial.Device, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	found := make(chan *serial.Device, 1)
	failed := make(chan *serial.Error, 1)
	reg := s.SetHandler(serial.ScannerHandlerFuncs{
		OnScanFailed: func(_ *serial.Scanner, err *serial.Error) {
			select {
			case failed <- err:
			default:
			}
		},
		OnDeviceFound: func(_ *serial.Scanner, d *serial.Device) {
			if !sameAddress(d.Address(), address) {
				return
			}
			select {
			case found <- d:
			default:
			}
		},
	})
	defer reg.Cancel()

	s.Start()
	defer s.Stop()

	select {
	case d := <-found:
		return d, nil
	case err := <-failed:
		return nil, err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, address)
		}
		return nil, ctx.Err()
	}
}

// sameAddress compares MAC addresses and CoreBluetooth UUIDs, ignoring case
// and the dashes of the UUID form.
func sameAddress(a, b string) bool {
	norm := func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "-", ""))
	}
	return norm(a) == norm(b)
}

// linkWatcher turns Device notifications into channels a command can select on.
// Sends never block the delivery queue.
type linkWatcher struct {
	serial.NopDeviceHandler

	connect  chan error
	vendor   chan string
	rssi     chan int
	failures chan error

	lost     chan struct{}
	lostOnce sync.Once
}

func newLinkWatcher() *linkWatcher {
	return &linkWatcher{
		connect:  make(chan error, 1),
		vendor:   make(chan string, 4),
		rssi:     make(chan int, 4),
		failures: make(chan error, 16),
		lost:     make(chan struct{}),
	}
}

func (w *linkWatcher) Connected(*serial.Device) { offer[error](w.connect, nil) }

func (w *linkWatcher) ConnectFailed(_ *serial.Device, err error) { offer(w.connect, err) }

func (w *linkWatcher) Disconnected(*serial.Device) {
	offer(w.connect, ErrConnectionLost)
	w.lostOnce.Do(func() { close(w.lost) })
}

func (w *linkWatcher) VendorNameRead(_ *serial.Device, name string) { offer(w.vendor, name) }

func (w *linkWatcher) RSSIUpdated(_ *serial.Device, rssi int) { offer(w.rssi, rssi) }

func (w *linkWatcher) OperationFailed(_ *serial.Device, op serial.Operation, err error) {
	offer(w.failures, fmt.Errorf("%s: %w", op, err))
}

func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

// dial connects d and returns a Stream over it. The Stream reports every
// Device notification to w.
func dial(ctx context.Context, d *serial.Device, cfg *config.Config, w *linkWatcher) (*serial.Stream, error) {
	stream := serial.NewStream(d, cfg.StreamBuffer, w)
	d.Connect()

	select {
	case err := <-w.connect:
		if err != nil {
			_ = stream.Close()
			return nil, err
		}
		return stream, nil
	case <-ctx.Done():
		_ = stream.Close()
		return nil, ctx.Err()
	}
}

// openStream is the find-then-dial sequence shared by the link commands.
func openStream(ctx context.Context, cfg *config.Config, logger *logrus.Logger, address string) (*serial.Scanner, *serial.Stream, *linkWatcher, error) {
	s, err := newScanner(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	d, err := findDevice(ctx, s, address, cfg.ScanTimeout)
	if err != nil {
		_ = s.Close()
		return nil, nil, nil, err
	}
	logger.WithFields(logrus.Fields{
		"address": d.Address(),
		"name":    d.LocalName(),
		"profile": d.Profile().Name,
	}).Info("Device found")

	w := newLinkWatcher()
	stream, err := dial(ctx, d, cfg, w)
	if err != nil {
		_ = s.Close()
		return nil, nil, nil, err
	}
	return s, stream, w, nil
}

// awaitMetadata requests the vendor name and RSSI and waits for both answers.
// Answers that fail or do not arrive within timeout are left unset.
func awaitMetadata(d *serial.Device, w *linkWatcher, timeout time.Duration) (vendor string, rssi int, rssiOK bool) {
	d.ReadVendorName()
	d.UpdateRSSI()

	deadline := time.After(timeout)
	pending := 2
	for pending > 0 {
		select {
		case vendor = <-w.vendor:
			pending--
		case rssi = <-w.rssi:
			rssiOK = true
			pending--
		case <-w.failures:
			// a failed read answers its request
			pending--
		case <-w.lost:
			return vendor, rssi, rssiOK
		case <-deadline:
			return vendor, rssi, rssiOK
		}
	}
	return vendor, rssi, rssiOK
}
