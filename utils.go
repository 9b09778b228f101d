// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostutil

import "github.com/google/gousb"

func idExists(slice []gousb.ID, item gousb.ID) bool {
	for _, element := range slice {
		if element == item {
			return true
		}
	}

	return false
}

func le_to_h_u16(buffer []byte) uint16 {
	return uint16(uint16(buffer[0]) | (uint16(buffer[1]) << 8))
}

func le_to_h_u32(buffer []byte) uint32 {
	return (uint32(buffer[0]) | uint32(buffer[1])<<8 | uint32(buffer[2])<<16 | uint32(buffer[3])<<24)
}

// byteSwap32 mirrors htonl on a little endian host. Register values
// cross the gdb wire byte swapped on both directions.
func byteSwap32(value uint32) uint32 {
	return (value&0x000000FF)<<24 |
		(value&0x0000FF00)<<8 |
		(value&0x00FF0000)>>8 |
		(value&0xFF000000)>>24
}

// ceilLog2 returns the smallest r so that v <= (1 << r); not
// performance critical.
func ceilLog2(v uint32) uint32 {
	var res uint32

	for res = 0; (1 << res) < v; res++ {
	}

	return res
}
