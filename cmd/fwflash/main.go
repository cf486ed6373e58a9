// fwflash streams a firmware image to a machine that has parked its
// control loop and entered the bootloader. It speaks the chunk protocol
// over a serial port and reports per-chunk progress.
//
// Usage:
//
//	fwflash -port /dev/ttyACM0 -image brewcode.bin
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"brewcode-go/services/boot"
)

func main() {
	var (
		portName = flag.String("port", "", "serial port (e.g. /dev/ttyACM0)")
		baud     = flag.Int("baud", 115200, "baud rate")
		image    = flag.String("image", "", "firmware image to flash")
		ackWait  = flag.Duration("ack-timeout", 5*time.Second, "per-chunk acknowledgment timeout")
		verbose  = flag.Bool("v", false, "log every chunk")
	)
	flag.Parse()

	log, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *portName == "" || *image == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(log, *portName, *baud, *image, *ackWait, *verbose); err != nil {
		log.Fatal("flash failed", zap.Error(err))
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func run(log *zap.Logger, portName string, baud int, image string, ackWait time.Duration, verbose bool) error {
	img, err := os.ReadFile(image)
	if err != nil {
		return err
	}
	if len(img) == 0 {
		return fmt.Errorf("%s: empty image", image)
	}

	port, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return fmt.Errorf("open %s: %w", portName, err)
	}
	defer port.Close()
	if err := port.SetReadTimeout(ackWait); err != nil {
		return err
	}

	log.Info("flashing",
		zap.String("port", portName),
		zap.String("image", image),
		zap.Int("bytes", len(img)))

	start := time.Now()
	var seq uint32
	for off := 0; off < len(img); off += boot.MaxChunkPayload {
		end := off + boot.MaxChunkPayload
		if end > len(img) {
			end = len(img)
		}
		frame := boot.ChunkFrame(seq, img[off:end])
		if _, err := port.Write(frame); err != nil {
			return fmt.Errorf("chunk %d: write: %w", seq, err)
		}
		if err := awaitAck(port); err != nil {
			return fmt.Errorf("chunk %d: %w", seq, err)
		}
		if verbose {
			log.Debug("chunk accepted", zap.Uint32("seq", seq), zap.Int("sent", end))
		}
		seq++
	}

	if _, err := port.Write(boot.EndFrame()); err != nil {
		return fmt.Errorf("end frame: write: %w", err)
	}
	if err := awaitAck(port); err != nil {
		return fmt.Errorf("end frame: %w", err)
	}

	log.Info("image accepted, machine is installing and will reset",
		zap.Uint32("chunks", seq),
		zap.Duration("took", time.Since(start).Round(time.Millisecond)))
	return nil
}

// awaitAck blocks for the machine's single acknowledgment byte. The port
// read timeout bounds the wait.
func awaitAck(port serial.Port) error {
	buf := make([]byte, 1)
	n, err := port.Read(buf)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no acknowledgment before timeout")
	}
	if buf[0] != boot.AckOK {
		return fmt.Errorf("machine rejected transfer: %s (0x%02X)", boot.AckName(buf[0]), buf[0])
	}
	return nil
}
