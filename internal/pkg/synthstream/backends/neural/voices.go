package neural

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const styleDim = 256

// voice is a style table: one styleDim row per input length.
type voice struct {
	name string
	rows [][]float32
}

// loadVoice reads a raw little-endian float32 style table.
func loadVoice(path string) (*voice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read voice: %w", err)
	}
	return parseVoice(strings.TrimSuffix(filepath.Base(path), ".bin"), data)
}

func parseVoice(name string, data []byte) (*voice, error) {
	if len(data) == 0 || len(data)%(4*styleDim) != 0 {
		return nil, fmt.Errorf("voice %s: size %d is not a multiple of %d floats", name, len(data), styleDim)
	}
	n := len(data) / 4
	floats := make([]float32, n)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	v := &voice{name: name}
	for off := 0; off < n; off += styleDim {
		v.rows = append(v.rows, floats[off:off+styleDim])
	}
	return v, nil
}

// style returns the row for a token sequence of length tokens.
func (v *voice) style(tokens int) []float32 {
	i := min(max(tokens-2, 0), len(v.rows)-1)
	return v.rows[i]
}

// voicePaths lists the installed voices: voice.bin first, then voices/*.bin
// by name. A variant id indexes this list.
func voicePaths(dir string) []string {
	var paths []string
	if _, err := os.Stat(filepath.Join(dir, "voice.bin")); err == nil {
		paths = append(paths, filepath.Join(dir, "voice.bin"))
	}
	entries, err := os.ReadDir(filepath.Join(dir, "voices"))
	if err != nil {
		return paths
	}
	var extra []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".bin") {
			extra = append(extra, filepath.Join(dir, "voices", e.Name()))
		}
	}
	sort.Strings(extra)
	return append(paths, extra...)
}
