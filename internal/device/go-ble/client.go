package goble

import (
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleserial/internal/device"
)

// BLECharacteristic wraps a discovered ble.Characteristic.
type BLECharacteristic struct {
	uuid    string
	BLEChar *ble.Characteristic
}

func (c *BLECharacteristic) UUID() string                { return c.uuid }
func (c *BLECharacteristic) Properties() device.Property { return device.Property(c.BLEChar.Property) }

// BLEClient adapts a ble.Client to device.Client.
type BLEClient struct {
	client ble.Client
	logger *logrus.Logger

	// go-ble clients are not safe for concurrent GATT requests
	mu sync.Mutex
}

func newBLEClient(client ble.Client, logger *logrus.Logger) *BLEClient {
	return &BLEClient{client: client, logger: logger}
}

func (c *BLEClient) Address() string {
	return c.client.Addr().String()
}

// DiscoverCharacteristics discovers the service and the requested
// characteristics, then their descriptors so notifiable ones carry a CCCD.
func (c *BLEClient) DiscoverCharacteristics(service string, uuids []string) ([]device.Characteristic, error) {
	svcUUID, err := ble.Parse(service)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", service, err)
	}
	filter := make([]ble.UUID, 0, len(uuids))
	for _, u := range uuids {
		cu, err := ble.Parse(u)
		if err != nil {
			return nil, fmt.Errorf("invalid characteristic UUID %q: %w", u, err)
		}
		filter = append(filter, cu)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	svcs, err := c.client.DiscoverServices([]ble.UUID{svcUUID})
	if err != nil {
		return nil, NormalizeError(err)
	}
	var svc *ble.Service
	for _, s := range svcs {
		if s.UUID.Equal(svcUUID) {
			svc = s
			break
		}
	}
	if svc == nil {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{device.NormalizeUUID(service)}}
	}

	chars, err := c.client.DiscoverCharacteristics(filter, svc)
	if err != nil {
		return nil, NormalizeError(err)
	}

	result := make([]device.Characteristic, 0, len(uuids))
	for i, want := range filter {
		var found *ble.Characteristic
		for _, ch := range chars {
			if ch.UUID.Equal(want) {
				found = ch
				break
			}
		}
		if found == nil {
			return nil, &device.NotFoundError{
				Resource: "characteristic",
				UUIDs:    []string{device.NormalizeUUID(service), device.NormalizeUUID(uuids[i])},
			}
		}
		if found.Property&(ble.CharNotify|ble.CharIndicate) != 0 {
			if _, err := c.client.DiscoverDescriptors(nil, found); err != nil {
				c.logger.WithFields(logrus.Fields{
					"char_uuid": uuids[i],
					"error":     err,
				}).Warn("Failed to discover descriptors")
			}
		}
		result = append(result, &BLECharacteristic{uuid: device.NormalizeUUID(uuids[i]), BLEChar: found})
	}
	return result, nil
}

func (c *BLEClient) unwrap(ch device.Characteristic) (*ble.Characteristic, error) {
	bc, ok := ch.(*BLECharacteristic)
	if !ok || bc.BLEChar == nil {
		return nil, fmt.Errorf("characteristic %q was not discovered on this link", ch.UUID())
	}
	return bc.BLEChar, nil
}

func (c *BLEClient) ReadCharacteristic(ch device.Characteristic) ([]byte, error) {
	bc, err := c.unwrap(ch)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := c.client.ReadCharacteristic(bc)
	return data, NormalizeError(err)
}

func (c *BLEClient) WriteCharacteristic(ch device.Characteristic, value []byte, noRsp bool) error {
	bc, err := c.unwrap(ch)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return NormalizeError(c.client.WriteCharacteristic(bc, value, noRsp))
}

func (c *BLEClient) Subscribe(ch device.Characteristic, handler func([]byte)) error {
	bc, err := c.unwrap(ch)
	if err != nil {
		return err
	}
	ind := bc.Property&ble.CharNotify == 0 && bc.Property&ble.CharIndicate != 0
	c.mu.Lock()
	defer c.mu.Unlock()
	return NormalizeError(c.client.Subscribe(bc, ind, func(data []byte) {
		handler(data)
	}))
}

func (c *BLEClient) ReadRSSI() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client.ReadRSSI()
}

func (c *BLEClient) ExchangeMTU(rxMTU int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mtu, err := c.client.ExchangeMTU(rxMTU)
	return mtu, NormalizeError(err)
}

// CancelConnection tears the link down. It does not take the request lock so
// a hung GATT request cannot block disconnection.
func (c *BLEClient) CancelConnection() error {
	if err := c.client.ClearSubscriptions(); err != nil {
		c.logger.WithField("error", err).Debug("Failed to clear subscriptions before disconnect")
	}
	return NormalizeError(c.client.CancelConnection())
}

func (c *BLEClient) Disconnected() <-chan struct{} {
	return c.client.Disconnected()
}
