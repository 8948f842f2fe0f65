package props

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"cmp"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"powerconf/internal/util"
)

// IdleView selects what a cpuidle binding reports about the requestable C-states of a CPU.
// Requestable C-states are the states Linux may request through the idle driver, listed as
// cpuidle/stateN directories of every CPU.
type IdleView string

const (
	IdleNames     IdleView = "names"
	IdleEnabled   IdleView = "enabled"
	IdleLatency   IdleView = "latency"
	IdleResidency IdleView = "residency"
)

// CStateAll stands for every requestable C-state in enable and disable requests.
const CStateAll = "all"

// IdleState is one requestable C-state of a CPU. Latency and Residency are in microseconds.
type IdleState struct {
	Index     int
	Name      string
	Disabled  bool
	Latency   int64
	Residency int64
	dir       string
}

// idleStates reads the requestable C-states under the cpuidle directory dir, ordered by index.
// fresh bypasses the cache for the disable attributes.
func (r *Resolver) idleStates(dir string, fresh bool) ([]IdleState, error) {
	names, err := r.backends.Sysfs.List(dir)
	if err != nil {
		return nil, err
	}
	var states []IdleState
	for _, name := range names {
		index, ok := strings.CutPrefix(name, "state")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(index)
		if err != nil {
			continue
		}
		st := IdleState{Index: n, dir: path.Join(dir, name)}
		if st.Name, err = r.backends.Sysfs.Read(path.Join(st.dir, "name")); err != nil {
			return nil, err
		}
		read := r.backends.Sysfs.Read
		if fresh {
			read = r.backends.Sysfs.ReadFresh
		}
		disable, err := read(path.Join(st.dir, "disable"))
		if err != nil {
			return nil, err
		}
		st.Disabled = disable != "0"
		if st.Latency, err = r.backends.Sysfs.ReadInt(path.Join(st.dir, "latency")); err != nil {
			return nil, err
		}
		if st.Residency, err = r.backends.Sysfs.ReadInt(path.Join(st.dir, "residency")); err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	if len(states) == 0 {
		return nil, notSupportedf("no requestable C-states in %s", dir)
	}
	slices.SortFunc(states, func(a, b IdleState) int { return cmp.Compare(a.Index, b.Index) })
	return states, nil
}

func (r *Resolver) readIdleStates(b *Binding, t ioTarget, fresh bool) (any, error) {
	dir, err := r.expandPath(b.Path, t)
	if err != nil {
		return nil, err
	}
	states, err := r.idleStates(dir, fresh || b.Fresh)
	if err != nil {
		return nil, err
	}
	list := []string{}
	for _, st := range states {
		switch b.IdleStates {
		case IdleNames:
			list = append(list, st.Name)
		case IdleEnabled:
			if !st.Disabled {
				list = append(list, st.Name)
			}
		case IdleLatency:
			list = append(list, st.Name+":"+util.FormatDuration(st.Latency))
		case IdleResidency:
			list = append(list, st.Name+":"+util.FormatDuration(st.Residency))
		default:
			return nil, fmt.Errorf("unknown cpuidle view %q", b.IdleStates)
		}
	}
	return list, nil
}

// enabledSet computes the C-states to enable from a request. A request is either a list of
// names, enabling exactly those, or a list of "+name" and "-name" changes to the current set.
// The name "all" stands for every state.
func enabledSet(states []IdleState, request []string) (map[string]bool, error) {
	if len(request) == 0 {
		return nil, errors.New("no C-states given")
	}
	prefixed := 0
	for _, tok := range request {
		if strings.HasPrefix(tok, "+") || strings.HasPrefix(tok, "-") {
			prefixed++
		}
	}
	if prefixed != 0 && prefixed != len(request) {
		return nil, fmt.Errorf("cannot mix C-state changes and names in %q", strings.Join(request, ","))
	}
	enabled := make(map[string]bool, len(states))
	if prefixed != 0 {
		for _, st := range states {
			enabled[st.Name] = !st.Disabled
		}
	}
	for _, tok := range request {
		on := !strings.HasPrefix(tok, "-")
		name := strings.TrimLeft(tok, "+-")
		if strings.EqualFold(name, CStateAll) {
			for _, st := range states {
				enabled[st.Name] = on
			}
			continue
		}
		i := slices.IndexFunc(states, func(st IdleState) bool { return strings.EqualFold(st.Name, name) })
		if i < 0 {
			known := make([]string, len(states))
			for j, st := range states {
				known[j] = st.Name
			}
			return nil, fmt.Errorf("unknown C-state %q, use one of: %s, %s", name, strings.Join(known, ", "), CStateAll)
		}
		enabled[states[i].Name] = on
	}
	return enabled, nil
}

// writeIdleStates enables and disables the requestable C-states of one CPU. Only the disable
// attributes that change are written.
func (r *Resolver) writeIdleStates(p *Property, b *Binding, t ioTarget, value any) error {
	if b.IdleStates != IdleEnabled {
		return notSupportedf("%s is read-only", p.ID())
	}
	request, ok := value.([]string)
	if !ok {
		return fmt.Errorf("bad %s value %v: a list of C-states is required", p.Name, value)
	}
	dir, err := r.expandPath(b.Path, t)
	if err != nil {
		return err
	}
	states, err := r.idleStates(dir, true)
	if err != nil {
		return err
	}
	enabled, err := enabledSet(states, request)
	if err != nil {
		return err
	}
	for _, st := range states {
		if enabled[st.Name] != st.Disabled {
			continue
		}
		disable := "1"
		if enabled[st.Name] {
			disable = "0"
		}
		if err := r.backends.Sysfs.Write(path.Join(st.dir, "disable"), disable); err != nil {
			return err
		}
	}
	return nil
}
