// Package serial exposes a BLE peripheral's serial service as a byte stream.
//
// A Scanner discovers peripherals advertising one of the configured serial
// profiles and yields each one once per scan session as a Device. A Device
// connects, exchanges opaque payloads, reads the vendor name and the link's
// RSSI. Every call returns immediately; results arrive on the registered
// ScannerHandler and DeviceHandler, one at a time, in the order the state
// changes happened.
//
//	s, _ := serial.NewScanner(nil)
//	s.SetHandler(serial.ScannerHandlerFuncs{
//	    OnDeviceFound: func(s *serial.Scanner, d *serial.Device) {
//	        s.Stop()
//	        d.SetHandler(myDeviceHandler)
//	        d.Connect()
//	    },
//	})
//	s.Start()
package serial
