package util

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkText(t *testing.T) {
	text := "abcdefghijklmnopqrstuvwxyz"
	chunks := ChunkText(text, 10, 2)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %q", len(chunks), chunks)
	}
	if chunks[0] != "abcdefghij" {
		t.Fatalf("unexpected first chunk: %s", chunks[0])
	}
	if chunks[1] != "ijklmnopqr" {
		t.Fatalf("unexpected second chunk: %s", chunks[1])
	}
}

func TestChunkTextTwentyFiveHundredChars(t *testing.T) {
	text := strings.Repeat("0123456789", 250)
	chunks := ChunkText(text, 1000, 200)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if utf8.RuneCountInString(c) > 1000 {
			t.Fatalf("chunk %d too long: %d", i, len(c))
		}
	}
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		head := string([]rune(chunks[i])[:200])
		if string(prev[len(prev)-200:]) != head {
			t.Fatalf("chunk %d does not share a 200 char overlap with chunk %d", i, i-1)
		}
	}
}

func TestChunkTextOverlapNotSmallerThanSize(t *testing.T) {
	chunks := ChunkText("abcdefghij", 4, 4)
	want := []string{"abcd", "efgh", "ij"}
	if strings.Join(chunks, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q want %q", chunks, want)
	}
	chunks = ChunkText("abcdefghij", 4, 9)
	if len(chunks) != 3 {
		t.Fatalf("oversized overlap should advance by size, got %q", chunks)
	}
}

func TestChunkTextDropsBlankWindows(t *testing.T) {
	text := "abcd" + strings.Repeat(" ", 8) + "efgh"
	chunks := ChunkText(text, 4, 0)
	if len(chunks) != 2 || chunks[0] != "abcd" || chunks[1] != "efgh" {
		t.Fatalf("unexpected chunks: %q", chunks)
	}
}

func TestChunkIsDeterministicAndRejoins(t *testing.T) {
	raw := "The quick brown fox\x00 jumps over the lazy dog. " + strings.Repeat("Lorem ipsum dolor sit amet. ", 40)
	opts := ChunkOptions{Size: 97, Overlap: 13}
	a := Chunk(raw, opts)
	b := Chunk(raw, opts)
	if strings.Join(a, "\x1f") != strings.Join(b, "\x1f") {
		t.Fatalf("chunking is not deterministic")
	}

	var rebuilt strings.Builder
	for i, w := range a {
		if i == 0 {
			rebuilt.WriteString(w)
			continue
		}
		rebuilt.WriteString(string([]rune(w)[opts.Overlap:]))
	}
	if rebuilt.String() != NormalizeText(raw, 0) {
		t.Fatalf("rejoined windows do not reconstruct normalized text")
	}
}

func TestChunkCapsWindowsAndInput(t *testing.T) {
	raw := strings.Repeat("x", 10000)
	if got := Chunk(raw, ChunkOptions{Size: 100, Overlap: 0, MaxChunks: 32}); len(got) != 32 {
		t.Fatalf("expected 32 capped windows, got %d", len(got))
	}
	if got := Chunk(raw, ChunkOptions{Size: 100, MaxInputChars: 250}); len(got) != 3 {
		t.Fatalf("expected input truncated to 250 chars, got %d windows", len(got))
	}
}
