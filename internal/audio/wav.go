package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// WAV format tags.
const (
	formatPCM        = 1
	formatFloat      = 3
	formatALaw       = 6
	formatMuLaw      = 7
	formatExtensible = 0xFFFE
)

// WAVInfo is the parsed header and raw sample data of a RIFF/WAVE file.
type WAVInfo struct {
	Format        uint16
	Channels      int
	SampleRate    int
	BitsPerSample int
	Data          []byte
}

func isWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

// ParseWAV walks the RIFF chunks. Extensible headers are reduced to their
// sub-format tag.
func ParseWAV(b []byte) (WAVInfo, error) {
	if !isWAV(b) {
		return WAVInfo{}, errors.New("not a RIFF/WAVE file")
	}
	var info WAVInfo
	var haveFmt, haveData bool
	pos := 12
	for pos+8 <= len(b) {
		id := string(b[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		pos += 8
		if size < 0 || pos+size > len(b) {
			// Some encoders write a bogus data size; take what is there.
			if id == "data" {
				size = len(b) - pos
			} else {
				return WAVInfo{}, fmt.Errorf("chunk %q overruns file", id)
			}
		}
		chunk := b[pos : pos+size]
		switch id {
		case "fmt ":
			if size < 16 {
				return WAVInfo{}, errors.New("fmt chunk too small")
			}
			info.Format = binary.LittleEndian.Uint16(chunk[0:2])
			info.Channels = int(binary.LittleEndian.Uint16(chunk[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(chunk[14:16]))
			if info.Format == formatExtensible {
				if size < 26 {
					return WAVInfo{}, errors.New("extensible fmt chunk too small")
				}
				info.Format = binary.LittleEndian.Uint16(chunk[24:26])
			}
			haveFmt = true
		case "data":
			info.Data = chunk
			haveData = true
		}
		pos += size
		if pos%2 == 1 {
			pos++
		}
	}
	if !haveFmt || !haveData {
		return WAVInfo{}, errors.New("missing fmt or data chunk")
	}
	if info.Channels <= 0 || info.SampleRate <= 0 {
		return WAVInfo{}, errors.New("invalid channel count or sample rate")
	}
	return info, nil
}

// samples decodes interleaved WAV data to 16-bit linear PCM.
func (w WAVInfo) samples() ([]int16, error) {
	d := w.Data
	switch {
	case w.Format == formatPCM && w.BitsPerSample == 8:
		out := make([]int16, len(d))
		for i, v := range d {
			out[i] = int16(int(v)-128) << 8
		}
		return out, nil

	case w.Format == formatPCM && w.BitsPerSample == 16:
		n := len(d) / 2
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			out[i] = int16(binary.LittleEndian.Uint16(d[i*2:]))
		}
		return out, nil

	case w.Format == formatPCM && w.BitsPerSample == 24:
		n := len(d) / 3
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			v := int32(d[i*3]) | int32(d[i*3+1])<<8 | int32(d[i*3+2])<<16
			if v&0x800000 != 0 {
				v |= ^0xFFFFFF
			}
			out[i] = int16(v >> 8)
		}
		return out, nil

	case w.Format == formatPCM && w.BitsPerSample == 32:
		n := len(d) / 4
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			out[i] = int16(int32(binary.LittleEndian.Uint32(d[i*4:])) >> 16)
		}
		return out, nil

	case w.Format == formatFloat && w.BitsPerSample == 32:
		n := len(d) / 4
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			out[i] = floatToPCM(float64(math.Float32frombits(binary.LittleEndian.Uint32(d[i*4:]))))
		}
		return out, nil

	case w.Format == formatFloat && w.BitsPerSample == 64:
		n := len(d) / 8
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			out[i] = floatToPCM(math.Float64frombits(binary.LittleEndian.Uint64(d[i*8:])))
		}
		return out, nil

	case w.Format == formatMuLaw && w.BitsPerSample == 8:
		out := make([]int16, len(d))
		for i, v := range d {
			out[i] = ulawToLinear(v)
		}
		return out, nil

	case w.Format == formatALaw && w.BitsPerSample == 8:
		out := make([]int16, len(d))
		for i, v := range d {
			out[i] = alawToLinear(v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported WAV encoding: format=%d bits=%d", w.Format, w.BitsPerSample)
}

func floatToPCM(f float64) int16 {
	if f > 1 {
		f = 1
	}
	if f < -1 {
		f = -1
	}
	return int16(f * 32767)
}

// encodeMuLawWAV writes mono 8-bit G.711 μ-law in a WAVE container with the
// fact chunk non-PCM formats require.
func encodeMuLawWAV(ulaw []byte, sampleRate int) []byte {
	n := len(ulaw)
	pad := n % 2
	var buf bytes.Buffer
	buf.Grow(58 + n + pad)

	le := binary.LittleEndian
	w32 := func(v uint32) { _ = binary.Write(&buf, le, v) }
	w16 := func(v uint16) { _ = binary.Write(&buf, le, v) }

	buf.WriteString("RIFF")
	w32(uint32(50 + n + pad))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	w32(18)
	w16(formatMuLaw)
	w16(1)
	w32(uint32(sampleRate))
	w32(uint32(sampleRate)) // byte rate: 1 byte per sample
	w16(1)                  // block align
	w16(8)
	w16(0) // cbSize

	buf.WriteString("fact")
	w32(4)
	w32(uint32(n))

	buf.WriteString("data")
	w32(uint32(n))
	buf.Write(ulaw)
	if pad == 1 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}
