package audio

import (
	"math"
	"testing"
)

func TestParseWAV_RoundTripsSamples(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 0.25}
	samples, rate, err := ParseWAV(SamplesToWAV(in, 16000))
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if rate != 16000 {
		t.Errorf("rate = %d, want 16000", rate)
	}
	if len(samples) != len(in) {
		t.Fatalf("len = %d, want %d", len(samples), len(in))
	}
	for i := range in {
		if math.Abs(float64(samples[i]-in[i])) > 1e-3 {
			t.Errorf("sample %d = %v, want %v", i, samples[i], in[i])
		}
	}
}

func TestParseWAV_RejectsGarbage(t *testing.T) {
	if _, _, err := ParseWAV([]byte("OggS....")); err != ErrNotWAV {
		t.Errorf("err = %v, want ErrNotWAV", err)
	}
}

func TestParseCodec(t *testing.T) {
	tests := []struct {
		name    string
		want    Codec
		wantErr bool
	}{
		{"", CodecPCM, false},
		{"g711_ulaw", CodecG711Ulaw, false},
		{"oggopus", CodecOggOpus, false},
		{"flac", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCodec(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCodec(%q) err = %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("ParseCodec(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
	if Decodable(CodecOggOpus) {
		t.Error("oggopus must not be locally decodable")
	}
}

func TestIsSilent(t *testing.T) {
	silence := make([]float32, 1600)
	if !IsSilent(silence, -45) {
		t.Error("zeros should be silent")
	}
	tone := make([]float32, 1600)
	for i := range tone {
		tone[i] = float32(0.3 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	if IsSilent(tone, -45) {
		t.Errorf("tone at %.1f dB reported silent", EnergyDB(tone))
	}
}

func TestToSpeechRate(t *testing.T) {
	in := make([]float32, 2205)
	out, rate := ToSpeechRate(in, 22050)
	if rate != 48000 {
		t.Errorf("rate = %d, want 48000", rate)
	}
	if len(out) == 0 {
		t.Error("empty output")
	}
	same, rate := ToSpeechRate(in, 16000)
	if rate != 16000 || len(same) != len(in) {
		t.Errorf("16k input should pass through, got rate %d len %d", rate, len(same))
	}
}

func TestG711_KnownCodeWords(t *testing.T) {
	for _, c := range []struct {
		name string
		fn   func(byte) int16
		in   byte
		want int16
	}{
		{"ulaw zero", ulawToLinear, 0xFF, 0},
		{"ulaw min", ulawToLinear, 0x00, -32124},
		{"ulaw max", ulawToLinear, 0x80, 32124},
		{"alaw +8", alawToLinear, 0xD5, 8},
		{"alaw -8", alawToLinear, 0x55, -8},
		{"alaw max", alawToLinear, 0xAA, 32256},
	} {
		if got := c.fn(c.in); got != c.want {
			t.Errorf("%s: %#x -> %d, want %d", c.name, c.in, got, c.want)
		}
	}

	samples, rate, err := Decode([]byte{0xFF, 0x00}, CodecG711Ulaw, 0)
	if err != nil || rate != 8000 || len(samples) != 2 || samples[0] != 0 || samples[1] >= -0.9 {
		t.Errorf("Decode ulaw = %v %d %v", samples, rate, err)
	}
}
