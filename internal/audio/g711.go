package audio

import "math"

// g711Table maps every 8-bit G.711 code word to its linear 16-bit value.
type g711Table [256]int16

var (
	ulaw = buildTable(ulawToLinear)
	alaw = buildTable(alawToLinear)
)

func buildTable(fn func(byte) int16) *g711Table {
	var t g711Table
	for i := range t {
		t[i] = fn(byte(i))
	}
	return &t
}

// ulawToLinear expands a µ-law code word (bias 0x84, inverted bits).
func ulawToLinear(u byte) int16 {
	u = ^u
	seg := (u & 0x70) >> 4
	mag := ((int32(u&0x0F) << 3) + 0x84) << seg
	if u&0x80 != 0 {
		return int16(0x84 - mag)
	}
	return int16(mag - 0x84)
}

// alawToLinear expands an A-law code word (even bits inverted with 0x55).
func alawToLinear(a byte) int16 {
	a ^= 0x55
	seg := (a & 0x70) >> 4
	mag := int32(a&0x0F) << 4
	switch seg {
	case 0:
		mag += 8
	case 1:
		mag += 0x108
	default:
		mag = (mag + 0x108) << (seg - 1)
	}
	if a&0x80 != 0 {
		return int16(mag)
	}
	return int16(-mag)
}

func (t *g711Table) decode(data []byte) []float32 {
	samples := make([]float32, len(data))
	for i, b := range data {
		samples[i] = float32(t[b]) / math.MaxInt16
	}
	return samples
}

func decodeG711Ulaw(data []byte) []float32 { return ulaw.decode(data) }

func decodeG711Alaw(data []byte) []float32 { return alaw.decode(data) }
