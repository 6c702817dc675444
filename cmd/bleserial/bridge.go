package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bleserial/internal/ptyio"
	"github.com/srg/bleserial/pkg/serial"
)

// bridgeCmd represents the bridge command
var bridgeCmd = &cobra.Command{
	Use:   "bridge <device-address>",
	Short: "Create a PTY bridge to a BLE serial device",
	Long: fmt.Sprintf(`Creates a bidirectional PTY (pseudoterminal) bridge to a BLE serial device,
allowing applications that expect a serial port to communicate with it.

The bridge creates a virtual serial device (e.g., /dev/ttys001) that applications
can open. Data written to the PTY is sent to the device's TX characteristic in
MTU-sized chunks, and notifications from its RX characteristic are written to
the PTY.

Example:
  bleserial bridge %s
  bleserial bridge --symlink /tmp/ttyBLE %s

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runBridge,
}

var bridgeSymlink string

func init() {
	bridgeCmd.Flags().StringVar(&bridgeSymlink, "symlink", "", "Create a symlink to the PTY device (e.g., /tmp/ttyBLE)")
}

func runBridge(cmd *cobra.Command, args []string) error {
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

	port, err := ptyio.Open(&ptyio.Options{Link: bridgeSymlink, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to create PTY: %w", err)
	}
	defer port.Close()

	d := stream.Device()
	status := cmd.ErrOrStderr()
	color.New(color.FgCyan).Fprintf(status, "Bridging %s (%s) to %s\n", d.DisplayName(), d.Profile().Name, describePort(port))
	fmt.Fprintln(status, "Press Ctrl+C to stop")

	err = bridge(ctx, stream, port, w, logger)

	read, written := port.Stats()
	logger.WithFields(logrus.Fields{
		"to_device":   read,
		"from_device": written,
		"dropped":     stream.Dropped(),
	}).Info("Bridge stopped")
	return err
}

func describePort(port *ptyio.Port) string {
	if port.Link() != "" {
		return fmt.Sprintf("%s -> %s", port.Link(), port.Name())
	}
	return port.Name()
}

// bridge copies between the Stream and the PTY until ctx is done or the link
// goes down. Write failures are logged and the bridge keeps running.
func bridge(ctx context.Context, stream *serial.Stream, port io.ReadWriter, w *linkWatcher, logger *logrus.Logger) error {
	go func() {
		if _, err := io.Copy(port, stream); err != nil {
			logger.WithError(err).Debug("Device to PTY copy ended")
		}
	}()
	go func() {
		if _, err := io.Copy(stream, port); err != nil {
			logger.WithError(err).Debug("PTY to device copy ended")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.lost:
			return ErrConnectionLost
		case err := <-w.failures:
			logger.WithError(err).Warn("BLE write failed")
		}
	}
}
