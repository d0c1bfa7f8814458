package main

import (
	"context"
	"errors"
	"sync"
	"time"
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// breakerGenerator stops calling the provider after repeated failures and
// lets a single probe through once the cooldown has passed.
type breakerGenerator struct {
	next      Generator
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu          sync.Mutex
	state       circuitState
	failures    int
	lastFailure time.Time
	probing     bool
}

func withCircuitBreaker(g Generator, threshold int, cooldown time.Duration) *breakerGenerator {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 10 * time.Second
	}
	return &breakerGenerator{next: g, threshold: threshold, cooldown: cooldown, now: time.Now}
}

func (b *breakerGenerator) Name() string     { return b.next.Name() }
func (b *breakerGenerator) Unwrap() Generator { return b.next }

func (b *breakerGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if err := b.allow(); err != nil {
		return "", err
	}
	text, err := b.next.Generate(ctx, req)
	b.record(err)
	return text, err
}

func (b *breakerGenerator) GenerateFromAudio(ctx context.Context, clip AudioClip) (string, error) {
	ag, ok := b.next.(AudioGenerator)
	if !ok {
		return "", ErrUnsupported
	}
	if err := b.allow(); err != nil {
		return "", err
	}
	text, err := ag.GenerateFromAudio(ctx, clip)
	b.record(err)
	return text, err
}

func (b *breakerGenerator) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case circuitOpen:
		if b.now().Sub(b.lastFailure) < b.cooldown {
			return ErrProviderUnavailable
		}
		b.state = circuitHalfOpen
		b.probing = true
		return nil
	case circuitHalfOpen:
		if b.probing {
			return ErrProviderUnavailable
		}
		b.probing = true
	}
	return nil
}

func (b *breakerGenerator) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	switch {
	case err == nil:
		b.state = circuitClosed
		b.failures = 0
	case errors.Is(err, context.Canceled):
		// The caller going away says nothing about the provider.
		if b.state == circuitHalfOpen {
			b.state = circuitOpen
		}
	case b.state == circuitHalfOpen:
		b.lastFailure = b.now()
		b.state = circuitOpen
	default:
		b.lastFailure = b.now()
		b.failures++
		if b.failures >= b.threshold {
			b.state = circuitOpen
			b.failures = 0
		}
	}
}
