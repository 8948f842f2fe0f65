package common

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"errors"
	"log/slog"

	"powerconf/internal/props"
	"powerconf/internal/selector"
)

// Change is a property value to apply, as given by the user or a settings file.
type Change struct {
	Property   string
	Value      string
	Selector   selector.Selector
	Mechanisms []props.Mechanism
}

// Outcome is the result of applying one change. Result is nil when the change was rejected
// before any unit was written.
type Outcome struct {
	Change Change
	Result *props.Result
	Err    error
}

// ParseChange checks that the value of a change parses for the property, using the generic
// registry.
func ParseChange(c Change) error {
	p, err := Registry().Get(c.Property)
	if err != nil {
		return err
	}
	if !p.Writable {
		return errors.New(p.Label + " is read-only")
	}
	_, err = props.ParseValue(p, c.Value)
	return err
}

// Apply applies changes in order. Changes that fail are retried once after the others, as a
// value may only become valid once another one is set, e.g. a minimum frequency above the
// current maximum. Outcomes are in the order of changes.
func Apply(ctx context.Context, r *props.Resolver, changes []Change) []Outcome {
	outcomes := make([]Outcome, len(changes))
	var failed []int
	for i, c := range changes {
		outcomes[i] = applyChange(ctx, r, c)
		if outcomes[i].Err != nil {
			failed = append(failed, i)
		}
	}
	if len(failed) == 0 || len(failed) == len(changes) || ctx.Err() != nil {
		return outcomes
	}
	for _, i := range failed {
		if props.IsRegisterLocked(outcomes[i].Err) {
			continue
		}
		slog.Debug("retrying change", slog.String("property", changes[i].Property), slog.String("value", changes[i].Value))
		outcomes[i] = applyChange(ctx, r, changes[i])
	}
	return outcomes
}

func applyChange(ctx context.Context, r *props.Resolver, c Change) Outcome {
	p, err := r.Registry().Get(c.Property)
	if err != nil {
		return Outcome{Change: c, Err: err}
	}
	value, err := props.ParseValue(p, c.Value)
	if err != nil {
		return Outcome{Change: c, Err: err}
	}
	res, err := r.ApplyProperty(ctx, p.ID(), c.Selector, value, c.Mechanisms)
	return Outcome{Change: c, Result: res, Err: err}
}
