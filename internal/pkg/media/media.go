// Package media inspects the containers produced by the capture encoders.
package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

const (
	MimeOggOpus = "audio/ogg; codecs=opus"
	MimeWAV     = "audio/wav"
	MimeIVF     = "video/x-ivf"

	// Opus granule positions always count 48 kHz samples.
	opusGranuleRate = 48000
	wavHeaderSize   = 44
	// streamingSize marks RIFF and data chunk sizes as unknown.
	streamingSize = 0xFFFFFFFF
)

// Duration estimates the playback length of an encoded artifact.
// Unknown containers fall back to one second per thousand bytes.
func Duration(data []byte, mimeType string) time.Duration {
	switch {
	case strings.HasPrefix(mimeType, "audio/ogg"):
		if d, err := OggDuration(data); err == nil {
			return d
		}
	case strings.HasPrefix(mimeType, "audio/wav"), strings.HasPrefix(mimeType, "audio/x-wav"):
		if d, err := WAVDuration(data); err == nil {
			return d
		}
	}
	return time.Duration(float64(len(data)) / 1000 * float64(time.Second))
}

// OggDuration reads the granule position of the last complete page.
func OggDuration(data []byte) (time.Duration, error) {
	reader, header, err := oggreader.NewWith(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}

	var granule uint64
	for {
		_, page, err := reader.ParseNextPage()
		if err != nil {
			// io.EOF, or a truncated trailing page; either way the last
			// granule seen is the best estimate.
			break
		}
		// -1 marks pages with no completed packet.
		if page.GranulePosition != ^uint64(0) && page.GranulePosition > granule {
			granule = page.GranulePosition
		}
	}

	skip := uint64(header.PreSkip)
	if granule <= skip {
		return 0, nil
	}
	samples := granule - skip
	return time.Duration(samples) * time.Second / opusGranuleRate, nil
}

// WAVHeader returns a canonical 16-bit PCM header for a stream of
// unknown length. Players treat the 0xFFFFFFFF sizes as "read to EOF".
func WAVHeader(sampleRate, channels int) []byte {
	h := make([]byte, wavHeaderSize)
	byteRate := sampleRate * channels * 2

	copy(h[0:], "RIFF")
	binary.LittleEndian.PutUint32(h[4:], streamingSize)
	copy(h[8:], "WAVE")
	copy(h[12:], "fmt ")
	binary.LittleEndian.PutUint32(h[16:], 16)
	binary.LittleEndian.PutUint16(h[20:], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:], uint16(channels))
	binary.LittleEndian.PutUint32(h[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(h[32:], uint16(channels*2))
	binary.LittleEndian.PutUint16(h[34:], 16)
	copy(h[36:], "data")
	binary.LittleEndian.PutUint32(h[40:], streamingSize)
	return h
}

// WAVDuration derives length from the header's format block and the
// number of sample bytes that follow it.
func WAVDuration(data []byte) (time.Duration, error) {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, errors.New("not a wav stream")
	}
	channels := int(binary.LittleEndian.Uint16(data[22:]))
	rate := int(binary.LittleEndian.Uint32(data[24:]))
	bits := int(binary.LittleEndian.Uint16(data[34:]))
	frameSize := channels * bits / 8
	if rate == 0 || frameSize == 0 {
		return 0, errors.New("invalid wav format block")
	}
	frames := (len(data) - wavHeaderSize) / frameSize
	return time.Duration(frames) * time.Second / time.Duration(rate), nil
}

// PCM16LE converts samples to little-endian bytes.
func PCM16LE(in []int16) []byte {
	out := make([]byte, len(in)*2)
	for i, sample := range in {
		out[i*2] = byte(sample & 0xff)
		out[i*2+1] = byte((sample >> 8) & 0xff)
	}
	return out
}
