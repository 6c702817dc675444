package goble

import (
	"context"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleserial/internal/device"
)

// DefaultDialTimeout bounds link establishment inside the platform stack.
const DefaultDialTimeout = 30 * time.Second

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func(dialTimeout time.Duration) (ble.Device, error) {
	return newDevice(dialTimeout)
}

// BLECentral wraps ble.Device to implement device.Central.
type BLECentral struct {
	dev    ble.Device
	logger *logrus.Logger

	mu      sync.Mutex
	stopped bool
}

// NewCentral opens the platform radio. Readiness failures (unsupported,
// powered off, unauthorized) surface here, normalized to device sentinels.
func NewCentral(dialTimeout time.Duration, logger *logrus.Logger) (*BLECentral, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	dev, err := DeviceFactory(dialTimeout)
	if err != nil {
		return nil, NormalizeError(err)
	}
	return &BLECentral{dev: dev, logger: logger}, nil
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to the device.Advertisement
func (c *BLECentral) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	if c.isStopped() {
		return device.ErrStackClosed
	}
	err := c.dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	})
	return NormalizeError(err)
}

func (c *BLECentral) Dial(ctx context.Context, address string) (device.Client, error) {
	if c.isStopped() {
		return nil, device.ErrStackClosed
	}
	c.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := c.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, NormalizeError(err)
	}
	return newBLEClient(client, c.logger), nil
}

func (c *BLECentral) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()
	return NormalizeError(c.dev.Stop())
}

func (c *BLECentral) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}
