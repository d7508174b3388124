package providers

import "testing"

func TestParseProviderList(t *testing.T) {
	refs := ParseProviderList("mock|OpenAI:key1,openai:key2")
	if len(refs) != 3 {
		t.Fatalf("expected 3 providers got %d", len(refs))
	}
	if refs[1].Name != "openai" || refs[1].KeyAlias != "key1" {
		t.Fatalf("unexpected parse result: %+v", refs[1])
	}
	if refs[2].String() != "openai:key2" {
		t.Fatalf("unexpected ref string %q", refs[2].String())
	}
}

func TestParseProviderListDropsDuplicates(t *testing.T) {
	refs := ParseProviderList("ollama|ollama| langchain:gw |langchain:gw")
	if len(refs) != 2 || refs[0].Name != "ollama" || refs[1].KeyAlias != "gw" {
		t.Fatalf("unexpected refs %+v", refs)
	}
}

func TestParseProviderListDefaultsToMock(t *testing.T) {
	refs := ParseProviderList(" | ")
	if len(refs) != 1 || refs[0].Name != "mock" {
		t.Fatalf("expected mock fallback, got %+v", refs)
	}
}
