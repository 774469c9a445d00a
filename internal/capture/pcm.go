package capture

import (
	"encoding/binary"
	"errors"
	"io"
)

// DecodeS16LE converts raw signed 16-bit little-endian PCM into float32
// samples in [-1, 1]. A trailing odd byte is ignored.
func DecodeS16LE(raw []byte) []float32 {
	count := len(raw) / 2
	samples := make([]float32, count)
	for i := 0; i < count; i++ {
		v := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		samples[i] = float32(v) / 32768
	}
	return samples
}

// Chunker slices a PCM byte stream into fixed-size float32 sample chunks.
type Chunker struct {
	r   io.Reader
	buf []byte
}

// NewChunker reads samplesPerChunk samples at a time from r.
func NewChunker(r io.Reader, samplesPerChunk int) *Chunker {
	if samplesPerChunk <= 0 {
		samplesPerChunk = 1024
	}
	return &Chunker{r: r, buf: make([]byte, samplesPerChunk*2)}
}

// Next returns the next chunk of samples. The final partial chunk is
// returned together with io.EOF; an empty final read returns (nil, io.EOF).
func (c *Chunker) Next() ([]float32, error) {
	n, err := io.ReadFull(c.r, c.buf)
	if n > 0 {
		samples := DecodeS16LE(c.buf[:n])
		if err == nil {
			return samples, nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return samples, io.EOF
		}
		return samples, err
	}
	if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return nil, err
}
