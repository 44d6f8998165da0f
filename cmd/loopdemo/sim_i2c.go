// cmd/loopdemo/sim_i2c.go
package main

import "math/rand"

// simI2C emulates an AHT20 well enough for the demo: calibrated on the
// first status read, a slightly wandering temperature and humidity.
type simI2C struct {
	traw uint32
	hraw uint32
}

func newSimI2C() *simI2C {
	return &simI2C{
		traw: 0x60000, // 25.0 C
		hraw: 0x8CCCD, // 55.0 %RH
	}
}

const (
	simCmdStatus     = 0x71
	simStatusCalOkay = 0x08
)

func (s *simI2C) Tx(addr uint16, w, r []byte) error {
	switch {
	case len(w) > 0 && w[0] == simCmdStatus:
		r[0] = simStatusCalOkay
	case len(w) == 0 && len(r) >= 7:
		s.wander()
		r[0] = simStatusCalOkay
		r[1] = byte(s.hraw >> 12)
		r[2] = byte(s.hraw >> 4)
		r[3] = byte(s.hraw&0xF)<<4 | byte(s.traw>>16)&0x0F
		r[4] = byte(s.traw >> 8)
		r[5] = byte(s.traw)
	}
	return nil
}

func (s *simI2C) wander() {
	s.traw += uint32(rand.Intn(0x400)) - 0x200
	s.hraw += uint32(rand.Intn(0x800)) - 0x400
}
