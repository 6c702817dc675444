package testutils

import (
	"strings"

	"github.com/srg/bleserial/internal/device"
	"github.com/stretchr/testify/mock"
)

// ServiceConfig describes one GATT service of a mocked peripheral.
type ServiceConfig struct {
	UUID            string
	Characteristics []CharacteristicConfig
}

// CharacteristicConfig describes one characteristic of a mocked service.
type CharacteristicConfig struct {
	UUID       string
	Properties device.Property
	Value      []byte
}

// PeripheralBuilder builds a MockClient whose GATT database and link
// parameters follow the configured services.
//
//	client := testutils.NewPeripheralBuilder("AA:BB:CC:DD:EE:FF").
//	    WithService("ffe0").
//	    WithCharacteristic("ffe1", "read,write-without-response,notify", nil).
//	    WithRSSI(-62).
//	    Build()
type PeripheralBuilder struct {
	address  string
	services []ServiceConfig
	rssi     int
	mtu      int
	mtuErr   error
}

func NewPeripheralBuilder(address string) *PeripheralBuilder {
	return &PeripheralBuilder{
		address: address,
		rssi:    -50,
		mtu:     device.DefaultMTU,
	}
}

// WithService starts a new service; following WithCharacteristic calls add to it.
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.services = append(b.services, ServiceConfig{UUID: device.NormalizeUUID(uuid)})
	return b
}

// WithCharacteristic adds a characteristic to the last service.
// properties is a comma separated list such as "read,notify".
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	if len(b.services) == 0 {
		panic("WithCharacteristic called before WithService")
	}
	svc := &b.services[len(b.services)-1]
	svc.Characteristics = append(svc.Characteristics, CharacteristicConfig{
		UUID:       device.NormalizeUUID(uuid),
		Properties: ParseProperties(properties),
		Value:      value,
	})
	return b
}

func (b *PeripheralBuilder) WithRSSI(rssi int) *PeripheralBuilder {
	b.rssi = rssi
	return b
}

// WithMTU sets the ATT MTU returned by the exchange, or the error it fails with.
func (b *PeripheralBuilder) WithMTU(mtu int, err error) *PeripheralBuilder {
	b.mtu = mtu
	b.mtuErr = err
	return b
}

// Services returns the configured services.
func (b *PeripheralBuilder) Services() []ServiceConfig {
	return b.services
}

// Build creates the MockClient. Expectations are registered with Maybe so
// tests only assert on the calls they care about; tests may register
// overriding expectations before Build.
func (b *PeripheralBuilder) Build() *MockClient {
	return b.BuildInto(NewMockClient(b.address))
}

// BuildInto registers the configured expectations on client, after any the
// caller registered already.
func (b *PeripheralBuilder) BuildInto(client *MockClient) *MockClient {
	services := b.services

	discover := DiscoverFunc(func(service string, uuids []string) ([]device.Characteristic, error) {
		service = device.NormalizeUUID(service)
		for _, svc := range services {
			if svc.UUID != service {
				continue
			}
			out := make([]device.Characteristic, 0, len(uuids))
			for _, want := range uuids {
				want = device.NormalizeUUID(want)
				found := false
				for _, c := range svc.Characteristics {
					if c.UUID == want {
						out = append(out, &MockCharacteristic{ID: c.UUID, Props: c.Properties})
						found = true
						break
					}
				}
				if !found {
					return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, want}}
				}
			}
			return out, nil
		}
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
	})

	client.On("DiscoverCharacteristics", mock.Anything, mock.Anything).Return(discover, nil).Maybe()
	client.On("Subscribe", mock.Anything).Return(nil).Maybe()
	for _, svc := range services {
		for _, c := range svc.Characteristics {
			client.On("ReadCharacteristic", c.UUID).Return(c.Value, nil).Maybe()
		}
	}
	client.On("WriteCharacteristic", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	client.On("ReadRSSI").Return(b.rssi).Maybe()
	client.On("ExchangeMTU", mock.Anything).Return(b.mtu, b.mtuErr).Maybe()
	client.On("CancelConnection").Return(nil).Maybe()
	return client
}

// ParseProperties converts "read,write,notify" style lists to a property set.
func ParseProperties(props string) device.Property {
	var p device.Property
	for _, name := range strings.Split(props, ",") {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "broadcast":
			p |= device.PropBroadcast
		case "read":
			p |= device.PropRead
		case "write-without-response", "writenr":
			p |= device.PropWriteWithoutResponse
		case "write":
			p |= device.PropWrite
		case "notify":
			p |= device.PropNotify
		case "indicate":
			p |= device.PropIndicate
		case "signed-write":
			p |= device.PropSignedWrite
		case "extended":
			p |= device.PropExtended
		}
	}
	return p
}
