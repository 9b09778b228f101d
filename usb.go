// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostutil

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/gousb"
)

var usbCtx *gousb.Context = nil

func InitializeUSB() error {
	if usbCtx == nil {
		usbCtx = gousb.NewContext()
		usbCtx.Debug(2)

		if usbCtx != nil {
			logger.Debug("Initialized libusb...")
			return nil
		} else {
			return errors.New("could not initialize libusb")
		}
	} else {
		logger.Warn("USB already initialized!")
		return nil
	}
}

func CloseUSB() {
	if usbCtx != nil {
		usbCtx.Close()
		usbCtx = nil
	} else {
		logger.Warn("Could not close uninitialized usb context")
	}
}

// parseDeviceFilter reads the STLINK_DEVICE environment variable in
// the format <usb bus>:<usb addr>. Both values zero means no filter.
func parseDeviceFilter() (int, int) {
	spec := os.Getenv("STLINK_DEVICE")
	if spec == "" {
		return 0, 0
	}

	var bus, address int
	if _, err := fmt.Sscanf(spec, "%d:%d", &bus, &address); err != nil {
		logger.Warnf("invalid STLINK_DEVICE specification %q, expected <bus>:<addr>", spec)
		return 0, 0
	}

	return bus, address
}

func usbFindDevices(vids []gousb.ID, pids []gousb.ID) ([]*gousb.Device, error) {
	busFilter, addressFilter := parseDeviceFilter()

	devices, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if !idExists(vids, desc.Vendor) || !idExists(pids, desc.Product) {
			return false
		}

		if busFilter != 0 && (desc.Bus != busFilter || desc.Address != addressFilter) {
			logger.Debugf("Skipping USB device [%04x:%04x] on bus %03d:%03d (STLINK_DEVICE filter)",
				uint16(desc.Vendor), uint16(desc.Product), desc.Bus, desc.Address)
			return false
		}

		logger.Infof("Found USB device [%04x:%04x] on bus %03d:%03d", uint16(desc.Vendor),
			uint16(desc.Product), desc.Bus, desc.Address)
		return true
	})

	if err == nil {
		logger.Infof("Found %d matching devices based on vendor and product id list", len(devices))
		return devices, nil
	} else {
		logger.Error("Got error during usb device scan ", err)
		return nil, err
	}
}

func usbWrite(endpoint *gousb.OutEndpoint, buffer []byte) (int, error) {
	bytesWritten, err := endpoint.Write(buffer)

	if err != nil {
		return -1, err
	} else {
		logger.Tracef("Wrote %d bytes to endpoint", bytesWritten)
		return bytesWritten, nil
	}
}

func usbRead(endpoint *gousb.InEndpoint, buffer []byte) (int, error) {
	bytesRead, err := endpoint.Read(buffer)

	if err != nil {
		return -1, err
	} else {
		logger.Tracef("Read %d bytes from in endpoint", bytesRead)
		return bytesRead, nil
	}
}
