package props

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"powerconf/internal/backend"
	"powerconf/internal/backend/sysfs"
	"powerconf/internal/topology"
)

// UncoreSysfsDir is the root of the intel_uncore_frequency driver attributes.
const UncoreSysfsDir = "/sys/devices/system/cpu/intel_uncore_frequency"

// uncoreDirs maps dies to their intel_uncore_frequency directories. Newer kernels have
// uncoreNN directories carrying package_id and domain_id attributes, where the domain id is
// the die id. Older kernels have one package_PP_die_DD directory per compute die.
type uncoreDirs struct {
	sysfs *sysfs.Sysfs
	once  sync.Once
	dirs  map[topology.DieID]string
	err   error
}

func newUncoreDirs(s *sysfs.Sysfs) *uncoreDirs {
	return &uncoreDirs{sysfs: s}
}

func (u *uncoreDirs) load() {
	u.dirs = make(map[topology.DieID]string)
	names, err := u.sysfs.List(UncoreSysfsDir)
	if err != nil {
		u.err = err
		return
	}
	modern := false
	for _, name := range names {
		if strings.HasPrefix(name, "uncore") {
			modern = true
			break
		}
	}
	for _, name := range names {
		dir := path.Join(UncoreSysfsDir, name)
		if modern {
			if !strings.HasPrefix(name, "uncore") {
				continue
			}
			pkg, err := u.sysfs.ReadInt(path.Join(dir, "package_id"))
			if err != nil {
				u.err = err
				return
			}
			die, err := u.sysfs.ReadInt(path.Join(dir, "domain_id"))
			if err != nil {
				u.err = err
				return
			}
			u.dirs[topology.DieID{Package: int(pkg), Die: int(die)}] = dir
			continue
		}
		var pkg, die int
		if _, err := fmt.Sscanf(name, "package_%02d_die_%02d", &pkg, &die); err != nil {
			continue
		}
		u.dirs[topology.DieID{Package: pkg, Die: die}] = dir
	}
}

// dir returns the directory of a die. Dies without one yield backend.ErrNotSupported.
func (u *uncoreDirs) dir(id topology.DieID) (string, error) {
	u.once.Do(u.load)
	if u.err != nil {
		return "", u.err
	}
	dir, ok := u.dirs[id]
	if !ok {
		return "", errors.Wrapf(backend.ErrNotSupported, "no uncore frequency directory for %s", id)
	}
	return dir, nil
}
