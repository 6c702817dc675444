package serial

import (
	"fmt"

	"github.com/srg/bleserial/internal/device"
)

// Profile names the GATT layout of one family of serial peripherals.
type Profile struct {
	Name    string `yaml:"name"`
	Service string `yaml:"service"`
	// TX is written by the central; RX notifies the central.
	TX string `yaml:"tx"`
	RX string `yaml:"rx"`
	// VendorService defaults to Service when empty. An empty VendorName
	// disables vendor name reads.
	VendorService string `yaml:"vendor_service"`
	VendorName    string `yaml:"vendor_name"`
	// WriteWithResponse forces acknowledged writes even when TX supports
	// write-without-response.
	WriteWithResponse bool `yaml:"write_with_response"`
}

// Built-in profiles.
var (
	RedBear = Profile{
		Name:       "redbear",
		Service:    "713d0000-503e-4c75-ba94-3148f18d941e",
		VendorName: "713d0001-503e-4c75-ba94-3148f18d941e",
		RX:         "713d0002-503e-4c75-ba94-3148f18d941e",
		TX:         "713d0003-503e-4c75-ba94-3148f18d941e",
	}
	NordicUART = Profile{
		Name:          "nordic-uart",
		Service:       "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
		RX:            "6e400003-b5a3-f393-e0a9-e50e24dcca9e",
		TX:            "6e400002-b5a3-f393-e0a9-e50e24dcca9e",
		VendorService: "180a",
		VendorName:    "2a29",
	}
	HM10 = Profile{
		Name:          "hm10",
		Service:       "ffe0",
		RX:            "ffe1",
		TX:            "ffe1",
		VendorService: "180a",
		VendorName:    "2a29",
	}
)

// DefaultProfiles returns the built-in profiles, RedBear first.
func DefaultProfiles() []Profile {
	return []Profile{RedBear, NordicUART, HM10}
}

// LookupProfile returns the built-in profile with the given name.
func LookupProfile(name string) (Profile, bool) {
	for _, p := range DefaultProfiles() {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// Normalize validates the profile and returns it with every UUID in
// normalized form and VendorService filled in.
func (p Profile) Normalize() (Profile, error) {
	if p.Name == "" {
		return Profile{}, fmt.Errorf("profile name is required")
	}
	uuids, err := device.ValidateUUID(p.Service, p.TX, p.RX)
	if err != nil {
		return Profile{}, fmt.Errorf("profile %q: %w", p.Name, err)
	}
	p.Service, p.TX, p.RX = uuids[0], uuids[1], uuids[2]

	if p.VendorName != "" {
		if p.VendorService == "" {
			p.VendorService = p.Service
		}
		vendor, err := device.ValidateUUID(p.VendorService, p.VendorName)
		if err != nil {
			return Profile{}, fmt.Errorf("profile %q vendor: %w", p.Name, err)
		}
		p.VendorService, p.VendorName = vendor[0], vendor[1]
	} else {
		p.VendorService = ""
	}
	return p, nil
}

func normalizeProfiles(profiles []Profile) ([]Profile, error) {
	if len(profiles) == 0 {
		profiles = DefaultProfiles()
	}
	out := make([]Profile, 0, len(profiles))
	seen := make(map[string]string, len(profiles))
	for _, p := range profiles {
		np, err := p.Normalize()
		if err != nil {
			return nil, err
		}
		if other, dup := seen[np.Service]; dup {
			return nil, fmt.Errorf("profiles %q and %q share service %s", other, np.Name, np.Service)
		}
		seen[np.Service] = np.Name
		out = append(out, np)
	}
	return out, nil
}
