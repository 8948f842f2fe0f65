package common

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"

	"go.uber.org/multierr"

	"powerconf/internal/backend"
	"powerconf/internal/backend/cppc"
	"powerconf/internal/backend/msr"
	"powerconf/internal/backend/sysfs"
	"powerconf/internal/backend/tpmi"
	"powerconf/internal/cpus"
	"powerconf/internal/progress"
	"powerconf/internal/props"
	"powerconf/internal/target"
	"powerconf/internal/topology"
	tpmispec "powerconf/internal/tpmi"
)

// System is a target with its platform, topology and property resolver.
type System struct {
	Target   target.Target
	Platform cpus.Platform
	Backends props.Backends
	Resolver *props.Resolver
	// Notice is set when the TPMI specs of another platform are in use.
	Notice *tpmispec.Notice
}

var (
	specCache = sync.OnceValue(func() *tpmispec.SpecCache {
		return tpmispec.NewSpecCache(tpmispec.SearchPath())
	})
	genericRegistry = sync.OnceValues(props.NewRegistry)
)

// SpecCache returns the TPMI spec cache shared by all commands.
func SpecCache() *tpmispec.SpecCache {
	return specCache()
}

// Registry returns the generic property registry, used for flags and input validation.
func Registry() *props.Registry {
	reg, err := genericRegistry()
	if err != nil {
		panic(err) // the property tables are fixed at build time
	}
	return reg
}

// Name returns the target name.
func (s *System) Name() string {
	return s.Target.GetName()
}

// Topology returns the current topology of the system.
func (s *System) Topology() *topology.Topology {
	return s.Resolver.Topology()
}

// OpenSystem probes the platform and topology of t and sets up the property resolver.
// localTempDir holds files pulled from the target.
func OpenSystem(t target.Target, localTempDir string) (*System, error) {
	return openSystem(t, localTempDir, func(string) {})
}

func openSystem(t target.Target, localTempDir string, status func(string)) (*System, error) {
	status("probing platform")
	tempDir := filepath.Join(localTempDir, sanitizeTargetName(t.GetName()))
	if err := os.MkdirAll(tempDir, 0755); err != nil { // #nosec G301
		return nil, err
	}
	platform, err := cpus.Probe(t, tempDir)
	if err != nil {
		return nil, err
	}
	if !platform.Known {
		slog.Warn("unknown CPU model, using generic property definitions", slog.String("target", t.GetName()), slog.String("vfm", platform.VFM.String()))
	}
	status("probing topology")
	facts, err := topology.Probe(t)
	if err != nil {
		return nil, err
	}
	s := &System{Target: t, Platform: platform}
	fs := sysfs.New(t)
	s.Backends = props.Backends{Sysfs: fs, MSR: msr.New(t), CPPC: cppc.New(fs)}
	facts, err = topology.ResolveComputeDies(facts, platform.VFM, s.Backends.MSR)
	if err != nil {
		return nil, err
	}
	status("probing TPMI")
	facts, err = s.openTPMI(facts)
	if err != nil {
		return nil, err
	}
	topo, err := topology.Build(facts)
	if err != nil {
		return nil, err
	}
	reg, err := Registry().ForPlatform(platform.VFM)
	if err != nil {
		return nil, err
	}
	s.Resolver = props.NewResolver(reg, topo, s.Backends)
	slog.Info("opened system", slog.String("target", t.GetName()), slog.String("platform", platform.Description()),
		slog.Int("cpus", len(topo.CPUs())), slog.Int("packages", len(topo.Packages())), slog.Bool("tpmi", s.Backends.TPMI != nil))
	return s, nil
}

// openTPMI sets up the TPMI backend and adds the dies TPMI reports to facts. Systems without
// TPMI, or without access to debugfs, work without it.
func (s *System) openTPMI(facts topology.Facts) (topology.Facts, error) {
	specs, notice, err := SpecCache().Load(s.Platform.VFM)
	if err != nil {
		slog.Warn("TPMI specs not available", slog.String("error", err.Error()))
		return facts, nil
	}
	b, err := tpmi.New(s.Target, specs)
	if err != nil {
		slog.Debug("TPMI not available", slog.String("target", s.Target.GetName()), slog.String("error", err.Error()))
		return facts, nil
	}
	if len(b.Packages()) == 0 {
		slog.Debug("no TPMI devices found", slog.String("target", s.Target.GetName()))
		return facts, nil
	}
	s.Notice = notice
	s.Backends.TPMI = b
	units, err := b.UFSUnits()
	if err != nil {
		if backend.IsNotSupported(err) {
			slog.Debug("TPMI UFS not available", slog.String("error", err.Error()))
			return facts, nil
		}
		return facts, fmt.Errorf("failed to enumerate TPMI UFS: %w", err)
	}
	return topology.ResolveNonComputeDies(facts, units)
}

// OpenSystems opens the systems of all targets concurrently. The result has an entry for
// every target; entries of targets that failed are nil and their errors are combined.
// With more than one target, per-target progress is shown on stderr.
func OpenSystems(ctx context.Context, targets []target.Target, localTempDir string) ([]*System, error) {
	update := func(string, string) error { return nil }
	if len(targets) > 1 {
		multiSpinner := progress.NewMultiSpinner(os.Stderr)
		for _, t := range targets {
			if err := multiSpinner.AddSpinner(t.GetName()); err != nil {
				slog.Error("failed to add spinner", slog.String("target", t.GetName()), slog.String("error", err.Error()))
			}
		}
		multiSpinner.Start()
		defer multiSpinner.Finish()
		update = multiSpinner.Status
	}
	systems := make([]*System, len(targets))
	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Go(func() {
			status := func(s string) { _ = update(t.GetName(), s) }
			if err := ctx.Err(); err != nil {
				errs[i] = err
				status("canceled")
				return
			}
			sys, err := openSystem(t, localTempDir, status)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", t.GetName(), err)
				slog.Error("failed to open system", slog.String("target", t.GetName()), slog.String("error", err.Error()))
				status("failed")
				return
			}
			systems[i] = sys
			status("ready")
		})
	}
	wg.Wait()
	return systems, multierr.Combine(errs...)
}

// Flush drops the cached sysfs values and TPMI register dumps of the system.
func (s *System) Flush() {
	s.Backends.Sysfs.Flush()
	if s.Backends.TPMI != nil {
		s.Backends.TPMI.Flush()
	}
}

func cpuOnlinePath(id int) string {
	return "/sys/devices/system/cpu/cpu" + strconv.Itoa(id) + "/online"
}

// SetCPUOnline brings a CPU online or offline and updates the topology the resolver uses.
func (s *System) SetCPUOnline(id int, online bool) error {
	topo := s.Topology()
	cpu, ok := topo.CPU(id)
	if !ok {
		return fmt.Errorf("CPU %d does not exist", id)
	}
	if cpu.Online == online {
		slog.Debug("CPU already in requested state", slog.Int("cpu", id), slog.Bool("online", online))
		return nil
	}
	value := "0"
	if online {
		value = "1"
	}
	if err := s.Backends.Sysfs.Write(cpuOnlinePath(id), value); err != nil {
		if backend.IsNotSupported(err) {
			return fmt.Errorf("CPU %d does not support hotplug: %w", id, err)
		}
		return err
	}
	s.Flush()
	var probed *topology.CPUFacts
	if online {
		// a full probe also finds the node and hybrid type of the CPU
		facts, err := topology.Probe(s.Target)
		if err != nil {
			return err
		}
		facts, err = topology.ResolveComputeDies(facts, s.Platform.VFM, s.Backends.MSR)
		if err != nil {
			return err
		}
		i := slices.IndexFunc(facts.CPUs, func(f topology.CPUFacts) bool { return f.ID == id })
		if i < 0 || !facts.CPUs[i].Online {
			return fmt.Errorf("CPU %d did not come online", id)
		}
		f := facts.CPUs[i]
		probed = &f
	}
	next, err := topo.SetOnline(id, online, probed)
	if err != nil {
		return err
	}
	s.Resolver.SetTopology(next)
	slog.Info("CPU hotplug", slog.String("target", s.Name()), slog.Int("cpu", id), slog.Bool("online", online))
	return nil
}
