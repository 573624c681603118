package mapidb

import (
	"testing"
	"time"
)

func TestWithDefaultsTransactionTimeout(t *testing.T) {
	cases := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"unset uses default", 0, 5 * time.Minute},
		{"explicit value kept", 30 * time.Second, 30 * time.Second},
		{"sentinel disables", DisableTransactionTimeout, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := withDefaults(Options{TransactionTimeout: c.in}).TransactionTimeout
			if got != c.want {
				t.Fatalf("TransactionTimeout = %v, want %v", got, c.want)
			}
		})
	}
}
