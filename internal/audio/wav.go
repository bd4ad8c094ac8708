package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const wavHeaderSize = 44

// WAV is a decoded PCM WAV container.
type WAV struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Data          []byte
}

// Samples returns Data as signed 16-bit little-endian samples.
func (w WAV) Samples() ([]int16, error) {
	if w.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported WAV sample width %d bits", w.BitsPerSample)
	}
	out := make([]int16, len(w.Data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(w.Data[i*2:]))
	}
	return out, nil
}

// EncodeWAV wraps raw s16 little-endian PCM in a minimal WAV container.
func EncodeWAV(pcm []byte, sampleRate int, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, wavHeaderSize+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[wavHeaderSize:], pcm)
	return buf
}

// WriteWAV writes pcm to w as a WAV file.
func WriteWAV(w io.Writer, pcm []byte, sampleRate int, channels int) error {
	_, err := w.Write(EncodeWAV(pcm, sampleRate, channels))
	return err
}

// ParseWAV walks the RIFF chunks of data and returns the PCM payload.
func ParseWAV(data []byte) (WAV, error) {
	if len(data) < 12 {
		return WAV{}, errors.New("WAV data too short to be a RIFF file")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return WAV{}, errors.New("WAV data missing RIFF/WAVE header")
	}

	var (
		out     WAV
		haveFmt bool
	)
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return WAV{}, errors.New("WAV fmt chunk truncated")
			}
			if format := binary.LittleEndian.Uint16(data[body:]); format != 1 {
				return WAV{}, fmt.Errorf("unsupported WAV format %d", format)
			}
			out.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			out.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			out.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return WAV{}, errors.New("WAV data chunk before fmt chunk")
			}
			end := body + size
			// Streaming servers write a zero or oversized length; take what is there.
			if size == 0 || end > len(data) {
				end = len(data)
			}
			out.Data = data[body:end]
			return out, nil
		}

		offset = body + size
		if size%2 != 0 {
			offset++
		}
	}
	return WAV{}, errors.New("WAV data chunk not found")
}
