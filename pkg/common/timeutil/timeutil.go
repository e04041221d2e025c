// Package timeutil lets callers swap the wall clock for a fixed one in tests.
package timeutil

import "time"

// Provider supplies the current time.
type Provider interface {
	Now() time.Time
}

type realProvider struct{}

func (realProvider) Now() time.Time { return time.Now() }

// Default returns a Provider backed by time.Now.
func Default() Provider { return realProvider{} }

// Fixed always reports the same instant.
type Fixed struct{ T time.Time }

func (f Fixed) Now() time.Time { return f.T }
