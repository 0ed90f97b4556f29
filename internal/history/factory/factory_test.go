package factory

import (
	"testing"
)

func TestNewSinkFromDSN_SQLite(t *testing.T) {
	cases := []string{
		"sqlite://:memory:",
		":memory:",
	}
	for _, dsn := range cases {
		sink, err := NewSinkFromDSN(dsn)
		if err != nil {
			t.Fatalf("NewSinkFromDSN(%q): %v", dsn, err)
		}
		if sink == nil {
			t.Fatalf("NewSinkFromDSN(%q): nil sink", dsn)
		}
		_ = sink.Close()
	}
}

func TestNewSinkFromDSN_Errors(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"redis://localhost:6379",
	}
	for _, dsn := range cases {
		if _, err := NewSinkFromDSN(dsn); err == nil {
			t.Errorf("NewSinkFromDSN(%q): expected error", dsn)
		}
	}
}
