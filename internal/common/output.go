package common

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"io"
	"log/slog"

	"powerconf/internal/props"
)

// WriteResult writes the value groups of a read result, one line per group, e.g.
// "- Min. CPU frequency: 800MHz for CPUs 0-3 (sysfs)".
func WriteResult(w io.Writer, res *props.Result) {
	p := res.Property
	for _, g := range res.Groups {
		fmt.Fprintf(w, "- %s: %s for %s%s\n", p.Label, props.FormatValue(p, g.Value), g.Description, mechanismSuffix(g))
	}
}

// WriteApplied writes the value groups of a write result, e.g.
// "- Min. CPU frequency set to 1.2GHz for CPUs 0-3 (sysfs)".
func WriteApplied(w io.Writer, res *props.Result) {
	p := res.Property
	for _, g := range res.Groups {
		fmt.Fprintf(w, "- %s set to %s for %s%s\n", p.Label, props.FormatValue(p, g.Value), g.Description, mechanismSuffix(g))
	}
}

func mechanismSuffix(g props.Group) string {
	if g.Mechanism == "" || props.IsUnavailable(g.Value) {
		return ""
	}
	return " (" + string(g.Mechanism) + ")"
}

// WriteProblems writes the scope warnings and unit errors of a result, and logs them.
func WriteProblems(w io.Writer, res *props.Result) {
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "WARNING: %s\n", warn.Error())
		slog.Warn(warn.Error())
	}
	for _, err := range res.Errors {
		fmt.Fprintf(w, "Error: %s: %v\n", res.Property.ID(), err)
		slog.Error(err.Error(), slog.String("property", res.Property.ID()))
	}
}
