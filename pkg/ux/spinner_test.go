// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package ux

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for the spinner goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNewSpinner_Defaults(t *testing.T) {
	spin := NewSpinner(&syncBuffer{}, "sampling")
	assert.Equal(t, "sampling", spin.message)
	assert.Equal(t, SpinnerDots, spin.spinType)
	assert.Equal(t, defaultSpinInterval, spin.interval)
	assert.False(t, spin.Running())
}

func TestSpinner_WithType(t *testing.T) {
	tests := []struct {
		name string
		in   SpinnerType
		want SpinnerType
	}{
		{"wave", SpinnerWave, SpinnerWave},
		{"compass", SpinnerCompass, SpinnerCompass},
		{"unknown keeps dots", SpinnerType(42), SpinnerDots},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spin := NewSpinner(&syncBuffer{}, "x").WithType(tt.in)
			assert.Equal(t, tt.want, spin.spinType)
		})
	}
}

func TestSpinner_WithInterval_IgnoresNonPositive(t *testing.T) {
	spin := NewSpinner(&syncBuffer{}, "x").WithInterval(0)
	assert.Equal(t, defaultSpinInterval, spin.interval)
	spin.WithInterval(time.Millisecond)
	assert.Equal(t, time.Millisecond, spin.interval)
}

func TestSpinner_StartStop(t *testing.T) {
	out := &syncBuffer{}
	spin := NewSpinner(out, "sampling coin").WithInterval(time.Millisecond)

	spin.Start()
	spin.Start()
	assert.True(t, spin.Running())
	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "sampling coin") >= 2
	}, time.Second, time.Millisecond)

	spin.UpdateMessage("sampling hmm")
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "sampling hmm")
	}, time.Second, time.Millisecond)

	spin.Stop()
	spin.Stop()
	assert.False(t, spin.Running())
	assert.True(t, strings.HasSuffix(out.String(), "\r\033[K"))
}

func TestSpinner_Restart(t *testing.T) {
	out := &syncBuffer{}
	spin := NewSpinner(out, "again").WithInterval(time.Millisecond)
	spin.Start()
	spin.Stop()
	spin.Start()
	assert.True(t, spin.Running())
	spin.Stop()
	assert.False(t, spin.Running())
}

func TestWithSpinner(t *testing.T) {
	boom := errors.New("boom")

	t.Run("returns fn error", func(t *testing.T) {
		out := &syncBuffer{}
		err := WithSpinner(out, "working", func() error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, out.String(), "working")
	})

	t.Run("nil writer runs fn", func(t *testing.T) {
		called := false
		require.NoError(t, WithSpinner(nil, "working", func() error {
			called = true
			return nil
		}))
		assert.True(t, called)
	})
}
