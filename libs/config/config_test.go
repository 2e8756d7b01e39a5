package config

import (
	"math"
	"testing"
	"time"
)

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "70000")
	if _, err := Port("TEST_PORT", "8083"); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
	t.Setenv("TEST_PORT", "")
	p, err := Port("TEST_PORT", "8083")
	if err != nil || p != "8083" {
		t.Fatalf("expected fallback 8083, got %q (%v)", p, err)
	}
}

func TestIntAndDuration(t *testing.T) {
	t.Setenv("TEST_CONNS", "12")
	n, err := Int("TEST_CONNS", 10)
	if err != nil || n != 12 {
		t.Fatalf("expected 12, got %d (%v)", n, err)
	}
	t.Setenv("TEST_CONNS", "-1")
	if _, err := Int("TEST_CONNS", 10); err == nil {
		t.Fatal("expected error for negative value")
	}

	t.Setenv("TEST_TIMEOUT", "")
	d, err := Duration("TEST_TIMEOUT", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("expected fallback 5s, got %s (%v)", d, err)
	}
	t.Setenv("TEST_TIMEOUT", "soon")
	if _, err := Duration("TEST_TIMEOUT", time.Second); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestIntAtMost(t *testing.T) {
	t.Setenv("TEST_CONNS", "4294967306")
	if _, err := IntAtMost("TEST_CONNS", 10, math.MaxInt32); err == nil {
		t.Fatal("expected error for value above int32")
	}
	t.Setenv("TEST_CONNS", "25")
	if n, err := IntAtMost("TEST_CONNS", 10, math.MaxInt32); err != nil || n != 25 {
		t.Fatalf("expected 25, got %d (%v)", n, err)
	}
}

func TestList(t *testing.T) {
	t.Setenv("TEST_ORIGINS", " https://a.example , ,https://b.example")
	got := List("TEST_ORIGINS")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected list %v", got)
	}
}
