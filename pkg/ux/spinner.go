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
	"fmt"
	"io"
	"sync"
	"time"
)

// SpinnerType selects the animation frames.
type SpinnerType int

const (
	SpinnerDots SpinnerType = iota
	SpinnerWave
	SpinnerCompass
)

var spinnerFrames = map[SpinnerType][]string{
	SpinnerDots:    {"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
	SpinnerWave:    {"~", "≈", "≋", "≈"},
	SpinnerCompass: {"◐", "◓", "◑", "◒"},
}

const defaultSpinInterval = 80 * time.Millisecond

// Spinner animates a status line on w until stopped. It redraws the line
// in place, so w should be a terminal.
type Spinner struct {
	w        io.Writer
	spinType SpinnerType
	interval time.Duration
	started  time.Time

	mu      sync.Mutex
	message string
	frame   int
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewSpinner creates a stopped spinner showing message.
func NewSpinner(w io.Writer, message string) *Spinner {
	return &Spinner{
		w:        w,
		message:  message,
		spinType: SpinnerDots,
		interval: defaultSpinInterval,
	}
}

// WithType sets the animation frames.
func (s *Spinner) WithType(t SpinnerType) *Spinner {
	if _, ok := spinnerFrames[t]; ok {
		s.spinType = t
	}
	return s
}

// WithInterval sets the redraw period.
func (s *Spinner) WithInterval(d time.Duration) *Spinner {
	if d > 0 {
		s.interval = d
	}
	return s
}

// Start begins the animation. Starting a running spinner does nothing.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.started = time.Now()
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
}

func (s *Spinner) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.draw()
	for {
		select {
		case <-stop:
			s.mu.Lock()
			fmt.Fprint(s.w, "\r\033[K")
			s.mu.Unlock()
			return
		case <-ticker.C:
			s.draw()
		}
	}
}

func (s *Spinner) draw() {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := spinnerFrames[s.spinType]
	elapsed := time.Since(s.started).Truncate(100 * time.Millisecond)
	fmt.Fprintf(s.w, "\r\033[K%s %s %s",
		Styles.Bar.Render(frames[s.frame]), s.message, Styles.Muted.Render(elapsed.String()))
	s.frame = (s.frame + 1) % len(frames)
}

// Stop ends the animation and clears the line. Stopping a stopped spinner
// does nothing.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
}

// Running reports whether the spinner is animating.
func (s *Spinner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// UpdateMessage replaces the status text from the next frame on.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// WithSpinner runs fn while a spinner shows message on w. A nil w runs fn
// without animation.
func WithSpinner(w io.Writer, message string, fn func() error) error {
	if w == nil {
		return fn()
	}
	spin := NewSpinner(w, message)
	spin.Start()
	defer spin.Stop()
	return fn()
}
