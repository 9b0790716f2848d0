package prompts

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Counter measures prompt text in model tokens.
type Counter interface {
	Count(text string) int
}

// TiktokenCounter counts with the BPE encoding of the configured model.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter picks the encoding for model, falling back to
// cl100k_base for models tiktoken does not know (DeepSeek, Gemini).
func NewTiktokenCounter(model string) (*TiktokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// RuneCounter estimates tokens from rune count when no tokenizer is available.
type RuneCounter struct{}

func (RuneCounter) Count(text string) int {
	return (utf8.RuneCountInString(text) + 2) / 3
}
