// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"

	"powerconf/cmd"
	"powerconf/internal/app"
)

func main() {
	// the variable names the directory receiving the profiles
	if dir := os.Getenv(app.EnvProfile); dir != "" {
		stop, err := startProfiling(dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start profiling: %v\n", err)
			os.Exit(1)
		}
		defer stop()
	}
	cmd.Execute()
}

// startProfiling starts CPU profiling into dir. The returned func stops it and writes a heap profile.
func startProfiling(dir string) (func(), error) {
	if err := os.MkdirAll(dir, 0755); err != nil { // #nosec G301
		return nil, err
	}
	cpuPath := filepath.Join(dir, "cpu.prof")
	memPath := filepath.Join(dir, "mem.prof")
	cpuFile, err := os.Create(cpuPath) // #nosec G304
	if err != nil {
		return nil, err
	}
	if err := pprof.StartCPUProfile(cpuFile); err != nil {
		cpuFile.Close()
		return nil, err
	}
	return func() {
		pprof.StopCPUProfile()
		cpuFile.Close()
		memFile, err := os.Create(memPath) // #nosec G304
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return
		}
		defer memFile.Close()
		if err := pprof.WriteHeapProfile(memFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return
		}
		fmt.Fprintf(os.Stderr, "Profiles written to %s and %s, view with: go tool pprof -http=:8080 %s\n", cpuPath, memPath, cpuPath)
	}, nil
}
