package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/bleserial/pkg/serial"
	"golang.org/x/term"
)

// escapeByte ends a terminal session (Ctrl+]), as in telnet.
const escapeByte = 0x1d

// metadataTimeout bounds the vendor name and RSSI reads after connecting.
const metadataTimeout = 5 * time.Second

// termCmd represents the term command
var termCmd = &cobra.Command{
	Use:   "term <device-address>",
	Short: "Open an interactive terminal to a BLE serial device",
	Long: fmt.Sprintf(`Connects to a BLE serial device and attaches it to this terminal: keystrokes
are sent to the device and everything the device sends is printed. The vendor
name and RSSI are shown after connecting. Press Ctrl+] to exit.

Example:
  bleserial term %s
  bleserial term --profile nordic-uart %s

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runTerm,
}

var termNoRaw bool

func init() {
	termCmd.Flags().BoolVar(&termNoRaw, "no-raw", false, "Keep the terminal in line mode (input is sent per line)")
}

func runTerm(cmd *cobra.Command, args []string) error {
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
	status := cmd.ErrOrStderr()
	info := color.New(color.FgCyan)
	info.Fprintf(status, "Connected to %s (%s, MTU %d)\n", d.DisplayName(), d.Profile().Name, d.MTU())
	vendor, rssi, rssiOK := awaitMetadata(d, w, metadataTimeout)
	if vendor != "" {
		info.Fprintf(status, "Vendor: %s\n", vendor)
	}
	if rssiOK {
		info.Fprintf(status, "RSSI:   %d dBm\n", rssi)
	}
	info.Fprintln(status, "Press Ctrl+] to exit")

	if !termNoRaw {
		if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
			state, err := term.MakeRaw(fd)
			if err != nil {
				return fmt.Errorf("failed to set raw terminal mode: %w", err)
			}
			defer func() { _ = term.Restore(fd, state) }()
		}
	}

	return pump(ctx, stream, w, os.Stdin, cmd.OutOrStdout(), status)
}

// pump copies in to the device and the device to out until the user sends
// the escape byte, in ends, ctx is done or the link goes down.
func pump(ctx context.Context, stream *serial.Stream, w *linkWatcher, in io.Reader, out, status io.Writer) error {
	quit := make(chan struct{})
	go func() {
		_, _ = io.Copy(stream, &escapeReader{r: in})
		close(quit)
	}()
	go func() {
		_, _ = io.Copy(out, stream)
	}()

	for {
		select {
		case <-quit:
			// a write to a dropped link also ends the input copy
			select {
			case <-w.lost:
				return ErrConnectionLost
			default:
				return nil
			}
		case <-ctx.Done():
			return nil
		case <-w.lost:
			return ErrConnectionLost
		case err := <-w.failures:
			fmt.Fprintf(status, "\r\n%s\r\n", color.RedString("write failed: %v", err))
		}
	}
}

// escapeReader passes bytes through until escapeByte, then reports io.EOF.
type escapeReader struct {
	r    io.Reader
	done bool
}

func (e *escapeReader) Read(p []byte) (int, error) {
	if e.done {
		return 0, io.EOF
	}
	n, err := e.r.Read(p)
	if i := bytes.IndexByte(p[:n], escapeByte); i >= 0 {
		e.done = true
		if i == 0 {
			return 0, io.EOF
		}
		return i, nil
	}
	return n, err
}
