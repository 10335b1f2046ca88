package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Format describes a PCM16 stream.
type Format struct {
	SampleRate int
	Channels   int
}

// ReadWAV parses a PCM16 WAV file and returns its data chunk untouched (interleaved,
// at the file's own rate) together with its format.
func ReadWAV(r io.Reader) ([]byte, Format, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, Format{}, err
	}
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, Format{}, errors.New("audio: not a WAV file")
	}
	var (
		f       Format
		haveFmt bool
	)
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4:]))
		off += 8
		switch {
		case id == "data" && (size == 0 || off+size > len(b)):
			// streaming writers leave the size unset; take what is there
			size = len(b) - off
		case off+size > len(b):
			return nil, Format{}, fmt.Errorf("audio: truncated %q chunk", id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, errors.New("audio: short fmt chunk")
			}
			tag := binary.LittleEndian.Uint16(b[off:])
			bits := binary.LittleEndian.Uint16(b[off+14:])
			if tag != 1 || bits != 16 {
				return nil, Format{}, fmt.Errorf("audio: unsupported WAV encoding (tag %d, %d bits)", tag, bits)
			}
			f.Channels = int(binary.LittleEndian.Uint16(b[off+2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(b[off+4:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, errors.New("audio: data chunk before fmt chunk")
			}
			return b[off : off+size], f, nil
		}
		off += size + size&1
	}
	return nil, Format{}, errors.New("audio: no data chunk")
}

func wavHeader(dataLen int, f Format) []byte {
	h := make([]byte, 44)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1)
	binary.LittleEndian.PutUint16(h[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(f.SampleRate*f.Channels*2))
	binary.LittleEndian.PutUint16(h[32:34], uint16(f.Channels*2))
	binary.LittleEndian.PutUint16(h[34:36], 16)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}

// EncodeWAV wraps pcm in a 44-byte PCM16 WAV header.
func EncodeWAV(pcm []byte, f Format) []byte {
	return append(wavHeader(len(pcm), f), pcm...)
}

// WAVWriter streams PCM16 into a WAV file and patches the header sizes on Close.
type WAVWriter struct {
	w      io.WriteSeeker
	format Format
	n      int
}

func NewWAVWriter(w io.WriteSeeker, f Format) (*WAVWriter, error) {
	if _, err := w.Write(wavHeader(0, f)); err != nil {
		return nil, err
	}
	return &WAVWriter{w: w, format: f}, nil
}

func (ww *WAVWriter) Write(p []byte) (int, error) {
	n, err := ww.w.Write(p)
	ww.n += n
	return n, err
}

// Close rewrites the header with the final data length. It does not close the
// underlying writer.
func (ww *WAVWriter) Close() error {
	if _, err := ww.w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := ww.w.Write(wavHeader(ww.n, ww.format)); err != nil {
		return err
	}
	_, err := ww.w.Seek(0, io.SeekEnd)
	return err
}
