package sim

import (
	"math"
	"math/rand"
)

// engineState drives the simulated sensor values. A virtual clock
// advances on every data request; the engine swells between idle and a
// gentle rev on a slow sine, with jitter on top.
type engineState struct {
	rng *rand.Rand
	t   float64

	rpm      float64
	speed    float64
	load     float64
	throttle float64
	coolant  float64
	intake   float64
	ambient  float64
	maf      float64
	voltage  float64
	timing   float64
	mapKPa   float64
	fuel     float64
}

func newEngineState() engineState {
	s := engineState{rng: rand.New(rand.NewSource(1))}
	s.step()
	return s
}

func (s *engineState) step() {
	s.t += 0.1
	swell := math.Sin(s.t*0.3) * math.Sin(s.t*0.3)

	s.rpm = 850 + 2600*swell + s.rng.Float64()*50
	s.throttle = swell * 60
	s.load = 20 + swell*55 + s.rng.Float64()*3
	s.speed = swell * 90
	s.coolant = math.Min(70+s.t*0.5, 88) + s.rng.Float64()*2
	s.intake = 25 + 5*math.Sin(s.t*0.1) + s.rng.Float64()
	s.ambient = 22 + s.rng.Float64()
	s.maf = 2 + s.rpm/1000*3 + s.throttle/10
	s.voltage = 13.8 + s.rng.Float64()*0.4
	s.timing = 10 + s.throttle/100*25
	s.mapKPa = 30 + s.load
	s.fuel = math.Max(75-s.t*0.01, 10)
}

// sample encodes the current value of one PID as its raw payload bytes.
// One-byte parameters pad B with zero. Unknown PIDs report ok false.
func (s *engineState) sample(pid byte) (a, b byte, ok bool) {
	word := func(v float64) (byte, byte, bool) {
		raw := uint16(math.Round(v))
		return byte(raw >> 8), byte(raw), true
	}
	single := func(v float64) (byte, byte, bool) {
		return byte(math.Round(v)), 0, true
	}

	switch pid {
	case 0x04:
		return single(s.load * 255 / 100)
	case 0x05:
		return single(s.coolant + 40)
	case 0x0B:
		return single(s.mapKPa)
	case 0x0C:
		return word(s.rpm * 4)
	case 0x0D:
		return single(s.speed)
	case 0x0E:
		return single((s.timing + 64) * 2)
	case 0x0F:
		return single(s.intake + 40)
	case 0x10:
		return word(s.maf * 100)
	case 0x11:
		return single(s.throttle * 255 / 100)
	case 0x1F:
		return word(s.t)
	case 0x2F:
		return single(s.fuel * 255 / 100)
	case 0x33:
		return single(101)
	case 0x42:
		return word(s.voltage * 1000)
	case 0x46:
		return single(s.ambient + 40)
	}
	return 0, 0, false
}
