package util

import "testing"

func TestSanitizeTextRemovesNulAndControls(t *testing.T) {
	in := "ab\x00cd\x01\x02\n\txy"
	out := SanitizeText(in)
	if out != "abcd\n\txy" {
		t.Fatalf("unexpected sanitized output: %q", out)
	}
}

func TestNormalizeTextDropsInvalidSequences(t *testing.T) {
	// \xed\xa0\x80 is a UTF-8 encoded lone surrogate; \xff is never valid.
	in := "ok\xed\xa0\x80 go\xff\u0085!\u007f"
	if out := NormalizeText(in, 0); out != "ok go!" {
		t.Fatalf("unexpected normalized output: %q", out)
	}
}

func TestNormalizeTextKeepsLiteralReplacementCharacter(t *testing.T) {
	// U+FFFD spelled out in the source is valid text; a stray \xff byte is not.
	if out := NormalizeText("a\uFFFDb\xffc", 0); out != "a\uFFFDbc" {
		t.Fatalf("unexpected normalized output: %q", out)
	}
	if out := SanitizeText(" \uFFFD "); out != "\uFFFD" {
		t.Fatalf("unexpected sanitized output: %q", out)
	}
}

func TestNormalizeTextTruncatesRunes(t *testing.T) {
	if out := NormalizeText("héllo wörld", 5); out != "héllo" {
		t.Fatalf("unexpected truncation: %q", out)
	}
}
