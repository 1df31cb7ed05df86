package pipeline

import (
	"strings"
	"testing"
	"unicode/utf8"

	"docchat-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitEmpty(t *testing.T) {
	c := NewChunker()
	assert.Empty(t, c.Split(nil))
	assert.Empty(t, c.Split([]model.Page{{Number: 1, Text: "  \n\n "}}))
}

func TestSplitCollapsesNewlines(t *testing.T) {
	chunks := NewChunker().Split([]model.Page{{Number: 4, Text: "Refund policy\n\nItems may be\nreturned."}})
	require.Len(t, chunks, 1)
	assert.Equal(t, "Refund policy Items may be returned.", chunks[0].Text)
	assert.Equal(t, chunks[0].Text, chunks[0].Metadata)
	assert.Equal(t, 4, chunks[0].Page)
	assert.Equal(t, ContentHash(chunks[0].Text), chunks[0].ID)
}

func TestSplitStripsNUL(t *testing.T) {
	chunks := NewChunker().Split([]model.Page{{Number: 1, Text: "Ref\x00und\x00 policy \x00\x00"}})
	require.Len(t, chunks, 1)
	assert.Equal(t, "Refund policy", chunks[0].Text)
	assert.NotContains(t, chunks[0].Metadata, "\x00")
	assert.Empty(t, NewChunker().Split([]model.Page{{Number: 2, Text: "\x00\x00"}}))
}

func TestSplitOverlap(t *testing.T) {
	c := NewChunker(WithChunkSize(10), WithOverlap(3))
	chunks := c.Split([]model.Page{{Number: 1, Text: "abcdefghijklmnopqrst"}})

	var texts []string
	for _, ch := range chunks {
		texts = append(texts, ch.Text)
	}
	assert.Equal(t, []string{"abcdefghij", "hijklmnopq", "opqrst"}, texts)
}

func TestSplitBreaksOnWords(t *testing.T) {
	c := NewChunker(WithChunkSize(10), WithOverlap(0))
	chunks := c.Split([]model.Page{{Number: 1, Text: "hello world again"}})

	var texts []string
	for _, ch := range chunks {
		texts = append(texts, ch.Text)
	}
	assert.Equal(t, []string{"hello", "world", "again"}, texts)
}

func TestSplitOrdinalsAcrossPages(t *testing.T) {
	c := NewChunker(WithChunkSize(50), WithOverlap(10))
	chunks := c.Split([]model.Page{pageOfWords(1, 60), pageOfWords(2, 60)})
	require.Greater(t, len(chunks), 2)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Ordinal)
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 50)
	}
	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, 2, chunks[len(chunks)-1].Page)
}

func TestSplitOverlapNotSmallerThanSize(t *testing.T) {
	c := NewChunker(WithChunkSize(5), WithOverlap(5))
	chunks := c.Split([]model.Page{{Number: 1, Text: "abcdefghij"}})
	require.Len(t, chunks, 2)
	assert.Equal(t, "fghij", chunks[1].Text)
}

func TestMetadataTruncatedToByteCap(t *testing.T) {
	// 16667 个三字节字符，共 50001 字节
	text := strings.Repeat("界", 16667)
	require.Greater(t, len(text), 50000)

	c := NewChunker(WithChunkSize(100000), WithOverlap(0))
	chunks := c.Split([]model.Page{{Number: 1, Text: text}})
	require.Len(t, chunks, 1)

	meta := chunks[0].Metadata
	assert.True(t, utf8.ValidString(meta))
	assert.LessOrEqual(t, len(meta), 36000)
	assert.Equal(t, 36000, len(meta))
	assert.Equal(t, text, chunks[0].Text)
}

func TestTruncateBytes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "abc", 10, "abc"},
		{"exact", "abc", 3, "abc"},
		{"ascii", "abcdef", 4, "abcd"},
		{"mid rune", "a界b", 2, "a"},
		{"after rune", "a界b", 4, "a界"},
		{"emoji", "😀😀", 5, "😀"},
		{"zero", "abc", 0, ""},
		{"invalid input", "ab\xffcd", 10, "abcd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateBytes(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
			assert.LessOrEqual(t, len(got), max(tt.n, 0))
		})
	}
}

func TestTruncateBytesNeverExceedsLimit(t *testing.T) {
	text := strings.Repeat("aé界😀", 50)
	for n := 0; n <= len(text)+2; n++ {
		got := TruncateBytes(text, n)
		assert.LessOrEqual(t, len(got), n)
		assert.True(t, utf8.ValidString(got))
		assert.True(t, strings.HasPrefix(text, got))
	}
}
