package redis

import "testing"

func TestEscapeGlob(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"retry:ethereum:l1_tx_log:", "retry:ethereum:l1_tx_log:"},
		{"task:a*b", `task:a\*b`},
		{"x?[y]", `x\?\[y\]`},
		{`back\slash`, `back\\slash`},
	}
	for _, tt := range tests {
		if got := escapeGlob(tt.in); got != tt.want {
			t.Errorf("escapeGlob(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestStoreKeyNamespace(t *testing.T) {
	s := &Store{namespace: "ingestor:"}
	if got := s.key("task:ethereum:l1_tx_log"); got != "ingestor:task:ethereum:l1_tx_log" {
		t.Errorf("unexpected namespaced key %s", got)
	}
}
