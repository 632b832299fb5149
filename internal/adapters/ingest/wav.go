package ingest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/okian/etude/internal/domain/performance"
)

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// DecodeWAV reads integer PCM (8, 16, 24, 32 bit) and 32/64-bit float WAV
// data. Other encodings return ErrNotWAV so the caller can fall back to
// an external decoder. A trailing partial frame is dropped.
func DecodeWAV(data []byte) (performance.Recording, error) {
	rd := bytes.NewReader(data)
	dec := wav.NewDecoder(rd)
	dec.ReadInfo()
	if dec.Err() != nil || dec.NumChans == 0 || dec.SampleRate == 0 {
		return performance.Recording{}, ErrNotWAV
	}

	var (
		samples []float64
		err     error
	)
	switch {
	case dec.WavAudioFormat == wavFormatFloat && dec.BitDepth == 64:
		samples, err = float64PCM(dec)
	case dec.WavAudioFormat == wavFormatFloat && dec.BitDepth == 32:
		samples, err = intPCM(dec, rd, func(v int) float64 {
			return float64(math.Float32frombits(uint32(int32(v))))
		})
	case dec.WavAudioFormat == wavFormatPCM,
		dec.WavAudioFormat == wavFormatExtensible && dec.BitDepth < 32:
		samples, err = intPCM(dec, rd, intScale(int(dec.BitDepth)))
	default:
		err = fmt.Errorf("%w: format %d with %d bits", ErrNotWAV, dec.WavAudioFormat, dec.BitDepth)
	}
	if err != nil {
		return performance.Recording{}, err
	}

	ch := int(dec.NumChans)
	return performance.Recording{
		Samples:    samples[:len(samples)/ch*ch],
		SampleRate: int(dec.SampleRate),
		Channels:   ch,
	}, nil
}

func intScale(bits int) func(int) float64 {
	if bits == 8 {
		// 8-bit PCM is unsigned.
		return func(v int) float64 { return (float64(v) - 128) / 128 }
	}
	full := float64(audio.IntMaxSignedValue(bits)) + 1
	return func(v int) float64 { return float64(v) / full }
}

func intPCM(dec *wav.Decoder, rd *bytes.Reader, conv func(int) float64) ([]float64, error) {
	switch dec.BitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d-bit samples", ErrNotWAV, dec.BitDepth)
	}
	if err := dec.FwdToPCM(); err != nil || dec.PCMChunk == nil {
		return nil, fmt.Errorf("%w: missing data chunk", ErrNotWAV)
	}
	// A truncated body may end mid-sample; that sample is not decoded.
	whole := min(dec.PCMSize, rd.Len()) / (int(dec.BitDepth) / 8)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	data := buf.Data[:min(whole, len(buf.Data))]
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = conv(v)
	}
	return out, nil
}

func float64PCM(dec *wav.Decoder) ([]float64, error) {
	if err := dec.FwdToPCM(); err != nil || dec.PCMChunk == nil {
		return nil, fmt.Errorf("%w: missing data chunk", ErrNotWAV)
	}
	raw, err := io.ReadAll(dec.PCMChunk.R)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	out := make([]float64, len(raw)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out, nil
}
