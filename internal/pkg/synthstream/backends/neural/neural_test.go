package neural

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"synthstream/internal/pkg/synthstream/engine"
)

const testTokens = "$ 0\n  16\na 43\nb 44\nc 45\n"

func voiceBytes(rows int, fill float32) []byte {
	out := make([]byte, rows*styleDim*4)
	for i := 0; i < rows*styleDim; i++ {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(fill+float32(i/styleDim)))
	}
	return out
}

func TestTokenizerEncode(t *testing.T) {
	tok, err := ReadTokenizer(strings.NewReader(testTokens))
	if err != nil {
		t.Fatalf("ReadTokenizer() error = %v", err)
	}
	if tok.VocabSize() != 5 {
		t.Fatalf("VocabSize() = %d, want 5", tok.VocabSize())
	}

	got := tok.Encode("ab c?")
	want := []int64{0, 43, 44, 16, 45, 0}
	if len(got) != len(want) {
		t.Fatalf("Encode() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Encode() = %v, want %v", got, want)
		}
	}
}

func TestTokenizerTruncates(t *testing.T) {
	tok, err := ReadTokenizer(strings.NewReader(testTokens))
	if err != nil {
		t.Fatalf("ReadTokenizer() error = %v", err)
	}
	got := tok.Encode(strings.Repeat("a", 2*maxTokens))
	if len(got) != maxTokens {
		t.Fatalf("len(Encode()) = %d, want %d", len(got), maxTokens)
	}
	if got[len(got)-1] != 0 {
		t.Fatalf("last token = %d, want pad", got[len(got)-1])
	}
}

func TestTokenizerRejectsEmptyTable(t *testing.T) {
	if _, err := ReadTokenizer(strings.NewReader("\n\n")); err == nil {
		t.Fatalf("ReadTokenizer() succeeded on an empty table")
	}
}

func TestParseVoice(t *testing.T) {
	v, err := parseVoice("v", voiceBytes(3, 1))
	if err != nil {
		t.Fatalf("parseVoice() error = %v", err)
	}
	if len(v.rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(v.rows))
	}
	if got := v.style(2)[0]; got != 1 {
		t.Fatalf("style(2)[0] = %v, want first row", got)
	}
	if got := v.style(100)[0]; got != 3 {
		t.Fatalf("style(100)[0] = %v, want last row", got)
	}

	if _, err := parseVoice("bad", make([]byte, 10)); err == nil {
		t.Fatalf("parseVoice() accepted a truncated table")
	}
}

func TestToPCM16(t *testing.T) {
	pcm := toPCM16([]float32{0, 0.5, -1, 2}, 1)
	want := []int16{0, 16384, -32767, 32767}
	for i, w := range want {
		if got := int16(binary.LittleEndian.Uint16(pcm[2*i:])); got != w {
			t.Fatalf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestProbe(t *testing.T) {
	dir := t.TempDir()
	if Probe(dir) {
		t.Fatalf("Probe() matched an empty directory")
	}
	os.WriteFile(filepath.Join(dir, "model.onnx"), nil, 0o644)
	if Probe(dir) {
		t.Fatalf("Probe() matched without tokens.txt")
	}
	os.WriteFile(filepath.Join(dir, "tokens.txt"), []byte(testTokens), 0o644)
	if !Probe(dir) {
		t.Fatalf("Probe() did not match model.onnx + tokens.txt")
	}
}

type delivery struct {
	chunks []int
	done   int
}

func newTestEngine(t *testing.T, samples int) (*Engine, *delivery, *float32) {
	t.Helper()
	tok, err := ReadTokenizer(strings.NewReader(testTokens))
	if err != nil {
		t.Fatalf("ReadTokenizer() error = %v", err)
	}
	v, err := parseVoice("voice", voiceBytes(1, 0))
	if err != nil {
		t.Fatalf("parseVoice() error = %v", err)
	}
	e := newEngine(tok, []string{"voice.bin"}, v, zerolog.Nop())

	var gotSpeed float32
	e.infer = func(tokens []int64, style []float32, speed float32) ([]float32, error) {
		gotSpeed = speed
		return make([]float32, samples), nil
	}

	d := &delivery{}
	e.RegisterCallback(func(msg engine.Message, n int) engine.CallbackResult {
		if msg != engine.MsgWaveformBuffer {
			t.Fatalf("unexpected message %v", msg)
		}
		if n == 0 {
			d.done++
		} else {
			d.chunks = append(d.chunks, n)
		}
		return engine.DataProcessed
	})
	if err := e.SetOutputBuffer(make([]byte, 200)); err != nil {
		t.Fatalf("SetOutputBuffer() error = %v", err)
	}
	return e, d, &gotSpeed
}

func TestSynthesizeChunksThenCompletes(t *testing.T) {
	e, d, speed := newTestEngine(t, 250)

	e.AddText([]byte("abc"))
	if err := e.Synthesize(); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	want := []int{100, 100, 50}
	if len(d.chunks) != len(want) || d.chunks[2] != 50 {
		t.Fatalf("chunks = %v, want %v", d.chunks, want)
	}
	if d.done != 1 {
		t.Fatalf("completions = %d, want 1", d.done)
	}
	if *speed != 1 {
		t.Fatalf("speed = %v, want 1", *speed)
	}
}

func TestSynthesizeEmptyCompletes(t *testing.T) {
	e, d, _ := newTestEngine(t, 10)
	e.AddText([]byte("???"))
	if err := e.Synthesize(); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(d.chunks) != 0 || d.done != 1 {
		t.Fatalf("chunks = %v, completions = %d; want none and 1", d.chunks, d.done)
	}
}

func TestSynthesizeStopsOnAbort(t *testing.T) {
	e, _, _ := newTestEngine(t, 1000)
	calls := 0
	e.RegisterCallback(func(engine.Message, int) engine.CallbackResult {
		calls++
		return engine.DataAbort
	})
	e.AddText([]byte("abc"))
	if err := e.Synthesize(); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("callback calls = %d, want 1 before abort", calls)
	}
}

func TestSpeedParam(t *testing.T) {
	e, _, speed := newTestEngine(t, 10)
	if err := e.SetVoiceParam(paramSpeed, 100); err != nil {
		t.Fatalf("SetVoiceParam() error = %v", err)
	}
	e.AddText([]byte("a"))
	e.Synthesize()
	if *speed != 2 {
		t.Fatalf("speed = %v, want 2", *speed)
	}
	if v, _ := e.VoiceParam(paramSpeed); v != 100 {
		t.Fatalf("VoiceParam(6) = %d, want 100", v)
	}
	if _, err := e.VoiceParam(9); !errors.Is(err, engine.ErrNotSupported) {
		t.Fatalf("VoiceParam(9) error = %v, want ErrNotSupported", err)
	}
}

func TestInferenceErrorIsStatus(t *testing.T) {
	e, _, _ := newTestEngine(t, 10)
	e.infer = func([]int64, []float32, float32) ([]float32, error) {
		return nil, errors.New("bad model")
	}
	e.AddText([]byte("a"))
	if err := e.Synthesize(); engine.Code(err) != 1 {
		t.Fatalf("Synthesize() error = %v, want status 1", err)
	}
}

func TestVariantSelectsVoice(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "voice.bin"), voiceBytes(1, 0), 0o644)
	os.MkdirAll(filepath.Join(dir, "voices"), 0o755)
	os.WriteFile(filepath.Join(dir, "voices", "b.bin"), voiceBytes(1, 7), 0o644)
	os.WriteFile(filepath.Join(dir, "voices", "a.bin"), voiceBytes(1, 5), 0o644)

	paths := voicePaths(dir)
	if len(paths) != 3 || filepath.Base(paths[1]) != "a.bin" {
		t.Fatalf("voicePaths() = %v", paths)
	}

	e, _, _ := newTestEngine(t, 10)
	e.voices = paths
	if err := e.SetVariant(2); err != nil {
		t.Fatalf("SetVariant() error = %v", err)
	}
	if got := e.voice.style(2)[0]; got != 7 {
		t.Fatalf("style after SetVariant(2) = %v, want 7", got)
	}
	if err := e.SetVariant(3); !errors.Is(err, engine.ErrNotSupported) {
		t.Fatalf("SetVariant(3) error = %v, want ErrNotSupported", err)
	}
}
