package neural

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// maxTokens is the longest sequence the model accepts, padding included.
const maxTokens = 512

// Tokenizer maps characters to model token ids using a tokens.txt table of
// "token id" lines.
type Tokenizer struct {
	tokenToID map[string]int64
	padID     int64
}

func LoadTokenizer(path string) (*Tokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tokens file: %w", err)
	}
	defer f.Close()
	return ReadTokenizer(f)
}

func ReadTokenizer(r io.Reader) (*Tokenizer, error) {
	t := &Tokenizer{tokenToID: make(map[string]int64)}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		// The token itself may be a space, so split on the last one.
		i := strings.LastIndexByte(line, ' ')
		if i < 0 {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(line[i+1:]), 10, 64)
		if err != nil {
			continue
		}
		t.tokenToID[line[:i]] = id
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tokens file: %w", err)
	}
	if len(t.tokenToID) == 0 {
		return nil, fmt.Errorf("tokens file has no entries")
	}
	return t, nil
}

// Encode returns the padded token sequence for text. Characters without a
// token are skipped; overlong input is truncated.
func (t *Tokenizer) Encode(text string) []int64 {
	tokens := make([]int64, 0, len(text)+2)
	tokens = append(tokens, t.padID)
	for _, r := range text {
		if len(tokens) == maxTokens-1 {
			break
		}
		if id, ok := t.tokenToID[string(r)]; ok {
			tokens = append(tokens, id)
		}
	}
	return append(tokens, t.padID)
}

func (t *Tokenizer) VocabSize() int {
	return len(t.tokenToID)
}
