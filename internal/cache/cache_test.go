package cache

import "testing"

func TestFingerprintStoreKeyIsNamespacedByRunID(t *testing.T) {
	s := &FingerprintStore{}
	got := s.key("run-42")
	want := "stall:run-42:windows"
	if got != want {
		t.Fatalf("key() = %q, want %q", got, want)
	}
}

func TestBudgetKeyIsNamespacedByScope(t *testing.T) {
	b := &Budget{}
	got := b.key("tenant-7")
	want := "budget:tenant-7:spend_usd"
	if got != want {
		t.Fatalf("key() = %q, want %q", got, want)
	}
}
