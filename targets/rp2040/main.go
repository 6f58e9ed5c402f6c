//go:build rp2040 || rp2350

// Bridge firmware for RP2040/RP2350 boards: exposes the chip's I2C buses to
// the ee24 host tool over USB CDC.
package main

import (
	"machine"
	"time"

	"ee24/core"
	"ee24/firmware"
)

// usbSerial adapts machine.Serial to a blocking io.ReadWriter.
type usbSerial struct{}

func (usbSerial) Read(p []byte) (int, error) {
	for machine.Serial.Buffered() == 0 {
		time.Sleep(50 * time.Microsecond)
	}
	return machine.Serial.Read(p)
}

func (usbSerial) Write(p []byte) (int, error) {
	return machine.Serial.Write(p)
}

func main() {
	// Clear any watchdog state left over from a previous reset
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}
	if err := machine.Serial.Configure(machine.UARTConfig{}); err != nil {
		return
	}

	fw := firmware.New(newI2CDriver(), firmware.Options{CompressDictionary: true})
	for {
		if err := fw.Serve(usbSerial{}); err != nil {
			core.Debugf("[bridge] serve: %v", err)
			time.Sleep(100 * time.Millisecond)
		}
	}
}
