package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/bleserial/pkg/serial"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <device-address>",
	Short: "Show vendor name, RSSI and MTU of a BLE serial device",
	Long: fmt.Sprintf(`Connects to a BLE serial device, reads its vendor name and signal strength,
prints them with the negotiated MTU and disconnects.

Example:
  bleserial info %s

%s`, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(logger)
	defer cancel()

	s, stream, w, err := openStream(ctx, cfg, logger, args[0])
	if err != nil {
		return err
	}
	defer s.Close()
	defer stream.Close()

	d := stream.Device()
	vendor, rssi, rssiOK := awaitMetadata(d, w, metadataTimeout)
	return renderInfo(cmd.OutOrStdout(), d, vendor, rssi, rssiOK)
}

func renderInfo(out io.Writer, d *serial.Device, vendor string, rssi int, rssiOK bool) error {
	label := color.New(color.Bold)
	unknown := color.New(color.Faint).Sprint("(unavailable)")

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	row := func(k, v string) { fmt.Fprintf(w, "%s\t%s\n", label.Sprint(k), v) }

	row("Address:", d.Address())
	row("Name:", nonEmpty(d.LocalName(), unknown))
	row("Profile:", d.Profile().Name)
	row("MTU:", fmt.Sprintf("%d", d.MTU()))
	row("Vendor:", nonEmpty(vendor, unknown))
	if rssiOK {
		row("RSSI:", rssiColor(rssi).Sprintf("%d dBm", rssi))
	} else {
		row("RSSI:", unknown)
	}
	return w.Flush()
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
