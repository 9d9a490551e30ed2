package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16
)

// EncodeWAV wraps mono float32 samples in a 16-bit PCM RIFF/WAV container. The
// result is suitable for multipart uploads to transcription services.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	pcm := Float32ToPCM16(samples)
	buf := make([]byte, wavHeaderSize+len(pcm))
	putWAVHeader(buf[:wavHeaderSize], sampleRate, 1, len(pcm))
	copy(buf[wavHeaderSize:], pcm)
	return buf
}

// putWAVHeader writes a canonical 44-byte PCM header into dst.
func putWAVHeader(dst []byte, sampleRate, channels, dataSize int) {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	copy(dst[0:4], "RIFF")
	binary.LittleEndian.PutUint32(dst[4:8], uint32(36+dataSize))
	copy(dst[8:12], "WAVE")

	copy(dst[12:16], "fmt ")
	binary.LittleEndian.PutUint32(dst[16:20], 16)
	binary.LittleEndian.PutUint16(dst[20:22], 1)
	binary.LittleEndian.PutUint16(dst[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(dst[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(dst[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(dst[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(dst[34:36], bitsPerSample)

	copy(dst[36:40], "data")
	binary.LittleEndian.PutUint32(dst[40:44], uint32(dataSize))
}

// WAVInfo describes the PCM stream found by [ReadWAVHeader].
type WAVInfo struct {
	SampleRate int
	Channels   int

	// DataSize is the declared size of the data chunk in bytes. Some writers
	// leave it zero or oversized for streamed files; readers should stop at EOF.
	DataSize int
}

// ReadWAVHeader parses a RIFF/WAV header from r, skipping any chunks between
// "fmt " and "data" (LIST, fact, ...). On success r is positioned at the first
// PCM byte. Only 16-bit integer PCM is supported.
func ReadWAVHeader(r io.Reader) (WAVInfo, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return WAVInfo{}, fmt.Errorf("audio: read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return WAVInfo{}, errors.New("audio: not a RIFF/WAVE stream")
	}

	var (
		info    WAVInfo
		haveFmt bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return WAVInfo{}, fmt.Errorf("audio: read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := int(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return WAVInfo{}, fmt.Errorf("audio: fmt chunk too short (%d bytes)", size)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return WAVInfo{}, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if format != 1 || bits != bitsPerSample {
				return WAVInfo{}, fmt.Errorf("audio: unsupported WAV encoding (format %d, %d bits); only 16-bit PCM", format, bits)
			}
			info.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return WAVInfo{}, errors.New("audio: data chunk before fmt chunk")
			}
			info.DataSize = size
			return info, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return WAVInfo{}, fmt.Errorf("audio: skip %q chunk: %w", id, err)
			}
		}
	}
}

// WAVWriter streams mono float32 audio into a 16-bit PCM WAV file. The header
// sizes are patched on Close. Not safe for concurrent use.
type WAVWriter struct {
	f          *os.File
	sampleRate int
	written    int
}

// CreateWAV creates (or truncates) path and writes a placeholder header.
func CreateWAV(path string, sampleRate int) (*WAVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("audio: create wav %q: %w", path, err)
	}
	hdr := make([]byte, wavHeaderSize)
	putWAVHeader(hdr, sampleRate, 1, 0)
	if _, err := f.Write(hdr); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("audio: write wav header: %w", err)
	}
	return &WAVWriter{f: f, sampleRate: sampleRate}, nil
}

// Write appends samples to the file.
func (w *WAVWriter) Write(samples []float32) error {
	n, err := w.f.Write(Float32ToPCM16(samples))
	w.written += n
	if err != nil {
		return fmt.Errorf("audio: write wav data: %w", err)
	}
	return nil
}

// Close finalises the header and closes the file.
func (w *WAVWriter) Close() error {
	hdr := make([]byte, wavHeaderSize)
	putWAVHeader(hdr, w.sampleRate, 1, w.written)
	_, werr := w.f.WriteAt(hdr, 0)
	cerr := w.f.Close()
	if werr != nil {
		return fmt.Errorf("audio: patch wav header: %w", werr)
	}
	return cerr
}
