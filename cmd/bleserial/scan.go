package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bleserial/pkg/serial"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE serial devices",
	Long: `Scan for Bluetooth Low Energy peripherals advertising one of the configured
serial services and list each one once, in discovery order, with its name,
address, advertised RSSI and matching profile.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var scanDuration time.Duration

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default: scan_timeout from config, 0 there means until Ctrl+C)")
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	duration := cfg.ScanTimeout
	if cmd.Flags().Changed("duration") {
		duration = scanDuration
	}

	s, err := newScanner(cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext(logger)
	defer cancel()
	if duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Scanning for serial devices (%s)...\n", describeDuration(duration))
	devices, err := collectDevices(ctx, s, logger)
	if err != nil {
		return err
	}
	return renderDevices(cmd.OutOrStdout(), devices)
}

func describeDuration(d time.Duration) string {
	if d <= 0 {
		return "Ctrl+C to stop"
	}
	return d.String()
}

// collectDevices runs one scan session until ctx is done. The Scanner yields
// each identity once, so insertion order is discovery order.
func collectDevices(ctx context.Context, s *serial.Scanner, logger *logrus.Logger) (*orderedmap.OrderedMap[string, *serial.Device], error) {
	devices := orderedmap.New[string, *serial.Device]()
	failed := make(chan *serial.Error, 1)

	// handlers run on the delivery goroutine; Flush below orders their
	// writes before the caller reads devices
	reg := s.SetHandler(serial.ScannerHandlerFuncs{
		OnScanFailed: func(_ *serial.Scanner, err *serial.Error) { offer(failed, err) },
		OnScanStarted: func(s *serial.Scanner) {
			logger.WithField("session", s.Session()).Debug("Scan started")
		},
		OnDeviceFound: func(_ *serial.Scanner, d *serial.Device) { devices.Set(d.Address(), d) },
	})
	defer reg.Cancel()

	s.Start()

	var err error
	select {
	case serr := <-failed:
		err = serr
	case <-ctx.Done():
	}

	s.Stop()
	s.Flush()
	return devices, err
}

func renderDevices(out io.Writer, devices *orderedmap.OrderedMap[string, *serial.Device]) error {
	if devices.Len() == 0 {
		fmt.Fprintln(out, "No serial devices discovered")
		return nil
	}

	header := color.New(color.Bold)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, header.Sprint("NAME\tADDRESS\tRSSI\tPROFILE"))
	fmt.Fprintln(w, strings.Repeat("-", 72))

	for pair := devices.Oldest(); pair != nil; pair = pair.Next() {
		d := pair.Value
		name := d.LocalName()
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, d.Address(), rssiColor(d.AdvertisedRSSI()).Sprintf("%d dBm", d.AdvertisedRSSI()), d.Profile().Name)
	}
	return w.Flush()
}

// rssiColor grades signal strength: green is a usable link, red a marginal one.
func rssiColor(rssi int) *color.Color {
	switch {
	case rssi >= -60:
		return color.New(color.FgGreen)
	case rssi >= -80:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
