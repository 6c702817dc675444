// Package bledb holds UUID normalization and the names of the GATT services,
// characteristics and company identifiers this module knows how to display.
package bledb

import "strings"

// sigBaseSuffix is the tail of the Bluetooth SIG base UUID
// (0000xxxx-0000-1000-8000-00805f9b34fb) once dashes are removed.
const sigBaseSuffix = "00001000800000805f9b34fb"

var services = map[string]string{
	"1800":                             "Generic Access",
	"1801":                             "Generic Attribute",
	"180a":                             "Device Information",
	"180f":                             "Battery",
	"ffe0":                             "HM-10 Serial",
	"713d0000503e4c75ba943148f18d941e": "RedBearLab BLE Shield",
	"6e400001b5a3f393e0a9e50e24dcca9e": "Nordic UART Service",
}

var characteristics = map[string]string{
	"2a00":                             "Device Name",
	"2a19":                             "Battery Level",
	"2a29":                             "Manufacturer Name String",
	"2a24":                             "Model Number String",
	"ffe1":                             "HM-10 Serial Data",
	"713d0001503e4c75ba943148f18d941e": "BLE Shield Vendor Name",
	"713d0002503e4c75ba943148f18d941e": "BLE Shield RX",
	"713d0003503e4c75ba943148f18d941e": "BLE Shield TX",
	"6e400002b5a3f393e0a9e50e24dcca9e": "Nordic UART RX",
	"6e400003b5a3f393e0a9e50e24dcca9e": "Nordic UART TX",
}

var vendors = map[uint16]string{
	0x0000: "Ericsson Technology Licensing",
	0x0006: "Microsoft",
	0x000d: "Texas Instruments",
	0x000f: "Broadcom",
	0x004c: "Apple",
	0x0059: "Nordic Semiconductor",
	0x02e5: "Espressif",
	0xfffe: "BLIMCo",
}

// NormalizeUUID converts a UUID string to the form go-ble prints: lowercase,
// no dashes, braces or 0x prefix. SIG base UUIDs collapse to their 16-bit
// short form. Returns "" when the input is not hexadecimal.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "0x")
	s = strings.Trim(s, "{}")
	s = strings.ReplaceAll(s, "-", "")

	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		s = s[4:8]
	}

	switch len(s) {
	case 4, 8, 32:
	default:
		return ""
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return ""
		}
	}
	return s
}

// NormalizeUUIDs normalizes every entry of uuids, keeping positions.
func NormalizeUUIDs(uuids []string) []string {
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = NormalizeUUID(u)
	}
	return out
}

// LookupService returns the known name of a service UUID, or "".
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the known name of a characteristic UUID, or "".
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}

// LookupVendor returns the Bluetooth SIG company name for id, or "".
func LookupVendor(id uint16) string {
	return vendors[id]
}
