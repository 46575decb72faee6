package metrics

import "testing"

func TestInitGlobalIsIdempotent(t *testing.T) {
	globalMu.Lock()
	global = nil
	globalMu.Unlock()

	if _, err := InitGlobal(); err != nil {
		t.Fatalf("first InitGlobal should succeed: %v", err)
	}
	if _, err := InitGlobal(); err == nil {
		t.Fatalf("second InitGlobal should fail with a clear error")
	}
}

func TestNewRegistersAllCollectors(t *testing.T) {
	r := New()
	if r.Handler() == nil {
		t.Fatal("expected a non-nil metrics handler")
	}
}
