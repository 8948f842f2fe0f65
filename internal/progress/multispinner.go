/*
Package progress renders per-target status lines while operations run on several targets.
*/
package progress

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

var spinChars = []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}

// UpdateFunc sets the status shown for a target.
type UpdateFunc func(label string, status string) error

type spinnerState struct {
	label       string
	status      string
	statusIsNew bool
	spinIndex   int
}

// MultiSpinner shows one spinner line per label. On a terminal the lines are redrawn in
// place; otherwise only status changes are printed.
type MultiSpinner struct {
	mu       sync.Mutex
	out      io.Writer
	tty      bool
	interval time.Duration
	spinners []spinnerState
	ticker   *time.Ticker
	done     chan struct{}
	stopped  chan struct{}
	spinning bool
}

// NewMultiSpinner creates a MultiSpinner writing to out.
func NewMultiSpinner(out io.Writer) *MultiSpinner {
	ms := &MultiSpinner{out: out, interval: 250 * time.Millisecond}
	if f, ok := out.(*os.File); ok {
		ms.tty = term.IsTerminal(int(f.Fd()))
	}
	return ms
}

// AddSpinner adds a line for label. Labels must be unique.
func (ms *MultiSpinner) AddSpinner(label string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, spinner := range ms.spinners {
		if spinner.label == label {
			return fmt.Errorf("spinner with label %s already exists", label)
		}
	}
	ms.spinners = append(ms.spinners, spinnerState{label: label, status: "?"})
	return nil
}

// Start draws the spinners and keeps redrawing them until Finish.
func (ms *MultiSpinner) Start() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.spinning {
		return
	}
	ms.drawLocked(true)
	ms.ticker = time.NewTicker(ms.interval)
	ms.done = make(chan struct{})
	ms.stopped = make(chan struct{})
	ms.spinning = true
	go ms.onTick()
}

// Finish stops the spinners and leaves their final status on screen.
func (ms *MultiSpinner) Finish() {
	ms.mu.Lock()
	if !ms.spinning {
		ms.mu.Unlock()
		return
	}
	ms.spinning = false
	ms.ticker.Stop()
	close(ms.done)
	ms.mu.Unlock()
	<-ms.stopped
	ms.mu.Lock()
	ms.drawLocked(false)
	ms.mu.Unlock()
}

// Status updates the status of the line labeled label. It is an UpdateFunc.
func (ms *MultiSpinner) Status(label string, status string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for i := range ms.spinners {
		if ms.spinners[i].label != label {
			continue
		}
		if status != ms.spinners[i].status {
			ms.spinners[i].status = status
			ms.spinners[i].statusIsNew = true
		}
		return nil
	}
	return fmt.Errorf("did not find spinner with label %s", label)
}

func (ms *MultiSpinner) onTick() {
	defer close(ms.stopped)
	for {
		select {
		case <-ms.done:
			return
		case <-ms.ticker.C:
			ms.mu.Lock()
			ms.drawLocked(true)
			ms.mu.Unlock()
		}
	}
}

func (ms *MultiSpinner) drawLocked(goUp bool) {
	for i, spinner := range ms.spinners {
		if !ms.tty && !spinner.statusIsNew {
			continue
		}
		fmt.Fprintf(ms.out, "%-20s  %s  %-40s\n", spinner.label, spinChars[spinner.spinIndex], spinner.status)
		ms.spinners[i].statusIsNew = false
		ms.spinners[i].spinIndex = (spinner.spinIndex + 1) % len(spinChars)
	}
	if goUp && ms.tty {
		for range ms.spinners {
			fmt.Fprint(ms.out, "\x1b[1A")
		}
	}
}
