// Package device describes the radio-stack collaborator the serial layer is
// built on: a Central that scans and dials, and a Client that exposes one
// connected peripheral's characteristics. It also owns the error vocabulary
// used to classify platform failures.
//
// Concrete implementations live in subpackages (see go-ble); tests use the
// fakes in internal/testutils.
package device
