// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package gostutil

// Cortex-M7 parts put real caches between the debug port and memory.
// Host writes land behind the D-cache, so before the core runs again
// the dirty lines have to be cleaned and the I-cache invalidated.

const cacheMaxLevels = 7

type cacheLevelDesc struct {
	nsets     uint32
	nways     uint32
	log2Nways uint32
	width     uint32
}

// cacheTracker holds the cache geometry read at attach time plus the
// dirty flag raised by every host initiated memory write.
type cacheTracker struct {
	probe Probe

	used     bool
	modified bool

	// minimal line size in bytes
	dminline uint32
	iminline uint32

	// last level of unification (uniprocessor)
	louu uint32

	icache [cacheMaxLevels]cacheLevelDesc
	dcache [cacheMaxLevels]cacheLevelDesc
}

func newCacheTracker(probe Probe) *cacheTracker {
	return &cacheTracker{probe: probe}
}

func (ct *cacheTracker) readLevelDesc(desc *cacheLevelDesc) error {
	ccsidr, err := ct.probe.ReadDebug32(regCm7Ccsidr)
	if err != nil {
		return err
	}

	desc.nsets = ((ccsidr >> 13) & 0x3fff) + 1
	desc.nways = ((ccsidr >> 3) & 0x1ff) + 1
	desc.log2Nways = ceilLog2(desc.nways)
	log2Nsets := ceilLog2(desc.nsets)
	desc.width = 4 + (ccsidr & 7) + log2Nsets

	logger.Infof("%08x LineSize: %d, ways: %d, sets: %d (width: %d)",
		ccsidr, 4<<(ccsidr&7), desc.nways, desc.nsets, desc.width)

	return nil
}

func (ct *cacheTracker) init() error {
	ct.used = false
	ct.modified = false

	ctr, err := ct.probe.ReadDebug32(regCm7Ctr)
	if err != nil {
		return err
	}

	// the format field identifies a v7 cache type register
	if (ctr >> 29) != 0x04 {
		return nil
	}

	ct.used = true
	ct.dminline = 4 << ((ctr >> 16) & 0x0f)
	ct.iminline = 4 << (ctr & 0x0f)

	clidr, err := ct.probe.ReadDebug32(regCm7Clidr)
	if err != nil {
		return err
	}

	ct.louu = (clidr >> 27) & 7

	ccr, err := ct.probe.ReadDebug32(regCm7Ccr)
	if err != nil {
		return err
	}

	logger.Infof("Chip clidr: %08x, I-Cache: %s, D-Cache: %s",
		clidr, onOff(ccr&cm7CcrIc != 0), onOff(ccr&cm7CcrDc != 0))
	logger.Infof(" cache: LoUU: %d, LoC: %d, LoUIS: %d",
		(clidr>>27)&7, (clidr>>24)&7, (clidr>>21)&7)
	logger.Infof(" cache: ctr: %08x, DminLine: %d bytes, IminLine: %d bytes",
		ctr, ct.dminline, ct.iminline)

	for i := 0; i < cacheMaxLevels; i++ {
		ct.dcache[i].width = 0
		ct.icache[i].width = 0

		levelType := (clidr >> (3 * i)) & 0x07

		if levelType == 2 || levelType == 3 || levelType == 4 { // data
			err = ct.probe.WriteDebug32(regCm7Csselr, uint32(i)<<1)
			if err != nil {
				return err
			}

			logger.Infof("D-Cache L%d:", i)

			if err = ct.readLevelDesc(&ct.dcache[i]); err != nil {
				return err
			}
		}

		if levelType == 1 || levelType == 3 { // instruction
			err = ct.probe.WriteDebug32(regCm7Csselr, (uint32(i)<<1)|1)
			if err != nil {
				return err
			}

			logger.Infof("I-Cache L%d:", i)

			if err = ct.readLevelDesc(&ct.icache[i]); err != nil {
				return err
			}
		}
	}

	return nil
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}

	return "off"
}

// change records that host visible memory was written. The address is
// not needed, the flush walks the whole cache anyway.
func (ct *cacheTracker) change(addr uint32, count uint32) {
	if count == 0 {
		return
	}

	_ = addr
	ct.modified = true
}

func (ct *cacheTracker) flush(ccr uint32) error {
	if (ccr & cm7CcrDc) != 0 {
		for level := int(ct.louu) - 1; level >= 0; level-- {
			desc := &ct.dcache[level]
			maxAddr := uint32(1) << desc.width
			waySh := 32 - desc.log2Nways

			// D-cache clean by set-ways.
			for addr := uint32(level << 1); addr < maxAddr; addr += ct.dminline {
				for way := uint32(0); way < desc.nways; way++ {
					err := ct.probe.WriteDebug32(regCm7Dccsw, addr|(way<<waySh))
					if err != nil {
						return err
					}
				}
			}
		}
	}

	// invalidate all I-cache to the point of unification
	if (ccr & cm7CcrIc) != 0 {
		return ct.probe.WriteDebug32(regCm7Iciallu, 0)
	}

	return nil
}

// sync cleans the caches if anything was written since the last
// resume. Must run before every transition to target execution.
func (ct *cacheTracker) sync() error {
	if !ct.used || !ct.modified {
		return nil
	}

	ct.modified = false

	ccr, err := ct.probe.ReadDebug32(regCm7Ccr)
	if err != nil {
		return err
	}

	if (ccr & (cm7CcrIc | cm7CcrDc)) != 0 {
		return ct.flush(ccr)
	}

	return nil
}
