package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"voiceline/internal/apperr"

	"github.com/hajimehoshi/go-mp3"
)

// Phone-grade output profile.
const (
	OutputSampleRate = 8000
	OutputChannels   = 1
	OutputMimeType   = "audio/wav"

	DefaultMaxInputBytes = 5 << 20
)

// ErrUnsupportedFormat is returned for input that is neither a supported
// WAV encoding nor decodable MP3. It is also a validation error.
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

type Output struct {
	Data       []byte
	MimeType   string
	SampleRate int
	Channels   int
	Samples    int
}

func (o Output) DurationMillis() int {
	if o.SampleRate == 0 {
		return 0
	}
	return o.Samples * 1000 / o.SampleRate
}

type Transcoder struct {
	maxInputBytes int64
}

func NewTranscoder(maxInputBytes int64) *Transcoder {
	if maxInputBytes <= 0 {
		maxInputBytes = DefaultMaxInputBytes
	}
	return &Transcoder{maxInputBytes: maxInputBytes}
}

func (t *Transcoder) MaxInputBytes() int64 { return t.maxInputBytes }

// Transcode converts WAV or MP3 input to mono 8 kHz G.711 μ-law WAV.
func (t *Transcoder) Transcode(raw []byte) (Output, error) {
	if len(raw) == 0 {
		return Output{}, apperr.Invalid("file", "empty upload")
	}
	if int64(len(raw)) > t.maxInputBytes {
		return Output{}, apperr.Invalid("file", fmt.Sprintf("larger than %d bytes", t.maxInputBytes))
	}

	var (
		pcm      []int16
		channels int
		rate     int
		err      error
	)
	switch {
	case isWAV(raw):
		pcm, channels, rate, err = decodeWAV(raw)
	case looksLikeMP3(raw):
		pcm, channels, rate, err = decodeMP3(raw)
	default:
		err = errors.New("unrecognised container")
	}
	if err != nil {
		return Output{}, unsupported(err)
	}

	mono := downmix(pcm, channels)
	out := resampleLinear(mono, rate, OutputSampleRate)
	if len(out) == 0 {
		return Output{}, unsupported(errors.New("no audio samples"))
	}
	ulaw := make([]byte, len(out))
	for i, s := range out {
		ulaw[i] = linearToULaw(s)
	}
	return Output{
		Data:       encodeMuLawWAV(ulaw, OutputSampleRate),
		MimeType:   OutputMimeType,
		SampleRate: OutputSampleRate,
		Channels:   OutputChannels,
		Samples:    len(out),
	}, nil
}

func unsupported(cause error) error {
	return fmt.Errorf("%w: %w", ErrUnsupportedFormat, apperr.Invalid("file", cause.Error()))
}

func decodeWAV(raw []byte) ([]int16, int, int, error) {
	info, err := ParseWAV(raw)
	if err != nil {
		return nil, 0, 0, err
	}
	pcm, err := info.samples()
	if err != nil {
		return nil, 0, 0, err
	}
	return pcm, info.Channels, info.SampleRate, nil
}

// looksLikeMP3 accepts an ID3v2 tag or an MPEG audio frame sync.
func looksLikeMP3(b []byte) bool {
	if len(b) >= 3 && string(b[0:3]) == "ID3" {
		return true
	}
	return len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0
}

// decodeMP3 yields interleaved 16-bit stereo; go-mp3 always outputs two
// channels.
func decodeMP3(raw []byte) ([]int16, int, int, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(raw))
	if err != nil {
		return nil, 0, 0, err
	}
	data, err := io.ReadAll(dec)
	if err != nil && len(data) == 0 {
		return nil, 0, 0, err
	}
	n := len(data) / 2
	pcm := make([]int16, n)
	for i := 0; i < n; i++ {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return pcm, 2, dec.SampleRate(), nil
}

func downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := range out {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += int(samples[i*channels+ch])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// resampleLinear converts between rates by linear interpolation. When
// downsampling, each output sample averages the input span it covers.
func resampleLinear(in []int16, inRate, outRate int) []int16 {
	if len(in) == 0 || inRate <= 0 {
		return nil
	}
	if inRate == outRate {
		return append([]int16(nil), in...)
	}
	ratio := float64(inRate) / float64(outRate)
	outLen := int(math.Floor(float64(len(in)) / ratio))
	out := make([]int16, outLen)
	for i := range out {
		pos := float64(i) * ratio
		var v float64
		if ratio > 1 {
			start := int(pos)
			end := int(pos + ratio)
			if end > len(in) {
				end = len(in)
			}
			if end <= start {
				end = start + 1
			}
			sum := 0.0
			for j := start; j < end; j++ {
				sum += float64(in[j])
			}
			v = sum / float64(end-start)
		} else {
			i0 := int(pos)
			i1 := i0 + 1
			if i1 >= len(in) {
				i1 = len(in) - 1
			}
			f := pos - float64(i0)
			v = float64(in[i0])*(1-f) + float64(in[i1])*f
		}
		out[i] = int16(math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(v))))
	}
	return out
}
