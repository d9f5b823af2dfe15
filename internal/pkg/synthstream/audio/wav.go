package audio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const wavHeaderSize = 44

// WriteWAV writes pcm as a RIFF/WAVE stream described by f.
func WriteWAV(out io.Writer, f Format, pcm []byte) error {
	if !f.Valid() {
		return fmt.Errorf("invalid format %s", f)
	}

	dataSize := uint32(len(pcm))
	blockAlign := f.FrameSize()
	byteRate := f.SampleRate * blockAlign

	w := bufio.NewWriter(out)

	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(wavHeaderSize-8)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	fmtChunk := []any{
		uint32(16),
		uint16(1), // PCM
		uint16(f.Channels),
		uint32(f.SampleRate),
		uint32(byteRate),
		uint16(blockAlign),
		uint16(f.BitsPerSample),
	}
	for _, v := range fmtChunk {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}

	return w.Flush()
}

// SaveWAV writes pcm to a new file at path.
func SaveWAV(path string, f Format, pcm []byte) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := WriteWAV(file, f, pcm); err != nil {
		file.Close()
		return fmt.Errorf("failed to write wav: %w", err)
	}
	return file.Close()
}
