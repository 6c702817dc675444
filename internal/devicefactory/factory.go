package devicefactory

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleserial/internal/device"
	goble "github.com/srg/bleserial/internal/device/go-ble"
)

// CentralFactory opens the platform radio as a device.Central.
// This is a variable so that it can be overridden in tests.
var CentralFactory = func(dialTimeout time.Duration, logger *logrus.Logger) (device.Central, error) {
	c, err := goble.NewCentral(dialTimeout, logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}
