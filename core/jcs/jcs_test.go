package jcs

import "testing"

func TestDigestBytesIsOrderInsensitive(t *testing.T) {
	first, err := DigestBytes([]byte(`{"b":1,"a":2}`))
	if err != nil {
		t.Fatalf("digest first form: %v", err)
	}
	second, err := DigestBytes([]byte(`{"a":2,"b":1}`))
	if err != nil {
		t.Fatalf("digest second form: %v", err)
	}
	if first != second {
		t.Fatalf("canonical digests differ: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Fatalf("expected sha256 hex digest, got %q", first)
	}
}

func TestDigestBytesRejectsMalformedJSON(t *testing.T) {
	if _, err := DigestBytes([]byte(`{`)); err == nil {
		t.Fatalf("expected error for malformed json")
	}
}

func TestDigestValueIsDeterministic(t *testing.T) {
	value := map[string]any{"agent_id": "agent-1", "depth": 2}
	first, err := DigestValue(value)
	if err != nil {
		t.Fatalf("digest value: %v", err)
	}
	second, err := DigestValue(value)
	if err != nil {
		t.Fatalf("digest value second pass: %v", err)
	}
	if first != second {
		t.Fatalf("expected deterministic digest, got %s and %s", first, second)
	}
}

func TestDigestValueRejectsUnmarshalable(t *testing.T) {
	if _, err := DigestValue(func() {}); err == nil {
		t.Fatalf("expected marshal error for func value")
	}
}
