// Package tpmi accesses TPMI registers through the Linux TPMI debugfs interface of a target.
package tpmi

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"bytes"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"powerconf/internal/backend"
	"powerconf/internal/target"
	tpmispec "powerconf/internal/tpmi"
)

// DebugfsRoot is where debugfs is mounted on Linux.
const DebugfsRoot = "/sys/kernel/debug"

const dumpCacheSize = 64

var (
	deviceDirRe  = regexp.MustCompile(`^tpmi-([0-9a-fA-F]{4}:[0-9a-fA-F]{2}:[0-9a-fA-F]{2}\.[0-7])$`)
	featureDirRe = regexp.MustCompile(`^tpmi-id-([0-9a-fA-F]+)$`)
)

// Location addresses one cluster of one instance of a TPMI feature.
type Location struct {
	PCI      string
	Package  int
	Instance int
	Cluster  int
}

func (l Location) String() string {
	return fmt.Sprintf("%s instance %d cluster %d", l.PCI, l.Instance, l.Cluster)
}

type device struct {
	pci      string
	pkg      int
	features []int
}

// TPMI reads and writes TPMI registers. Parsed mem_dump files are kept in an LRU cache and
// dropped when the feature is written, on Flush, and by fresh reads.
type TPMI struct {
	target  target.Target
	specs   *tpmispec.FeatureSet
	root    string
	devices []device
	unknown []int
	dumps   *lru.Cache
	mu      sync.Mutex
}

// New discovers the TPMI devices of t under the standard debugfs mount point.
func New(t target.Target, specs *tpmispec.FeatureSet) (*TPMI, error) {
	return NewWithRoot(t, specs, DebugfsRoot)
}

// NewWithRoot discovers the TPMI devices found in the debugfs directory root of t. Any
// directory holding tpmi-* device directories works, e.g., a copy taken from another system.
func NewWithRoot(t target.Target, specs *tpmispec.FeatureSet, root string) (*TPMI, error) {
	dumps, err := lru.New(dumpCacheSize)
	if err != nil {
		return nil, err
	}
	b := &TPMI{
		target: t,
		specs:  specs,
		root:   root,
		dumps:  dumps,
	}
	if err := b.discover(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *TPMI) discover() error {
	entries, err := b.target.ListDirectory(b.root)
	if err != nil {
		if backend.Unsupported(err) {
			return errors.Wrapf(backend.ErrNotSupported, "TPMI debugfs directory %s not found on %s, is debugfs mounted", b.root, b.target.GetName())
		}
		return errors.Wrapf(err, "failed to list %s", b.root)
	}
	infoFeature, err := b.specs.Feature(tpmispec.FeatureInfo)
	if err != nil {
		return err
	}
	unknown := make(map[int]bool)
	for _, entry := range entries {
		m := deviceDirRe.FindStringSubmatch(entry)
		if m == nil {
			continue
		}
		dev := device{pci: m[1]}
		featureDirs, err := b.target.ListDirectory(path.Join(b.root, entry))
		if err != nil {
			return errors.Wrapf(err, "failed to list TPMI device %s", dev.pci)
		}
		for _, dir := range featureDirs {
			fm := featureDirRe.FindStringSubmatch(dir)
			if fm == nil {
				continue
			}
			fid, err := strconv.ParseInt(fm[1], 16, 32)
			if err != nil {
				continue
			}
			if _, ok := b.specs.FeatureByID(int(fid)); !ok {
				unknown[int(fid)] = true
				continue
			}
			dev.features = append(dev.features, int(fid))
		}
		if !slices.Contains(dev.features, infoFeature.ID) {
			slog.Debug("skipping TPMI device without the info feature", slog.String("device", dev.pci))
			continue
		}
		if dev.pkg, err = b.probeDevice(dev.pci, infoFeature); err != nil {
			return err
		}
		slices.Sort(dev.features)
		b.devices = append(b.devices, dev)
	}
	if len(b.devices) == 0 {
		return errors.Wrapf(backend.ErrNotSupported, "no TPMI devices found in %s on %s", b.root, b.target.GetName())
	}
	slices.SortFunc(b.devices, func(a, c device) int { return strings.Compare(a.pci, c.pci) })
	for fid := range unknown {
		b.unknown = append(b.unknown, fid)
	}
	slices.Sort(b.unknown)
	return nil
}

// probeDevice verifies the interface version of a device and returns its package.
func (b *TPMI) probeDevice(pci string, info *tpmispec.Feature) (int, error) {
	dump, err := b.dump(pci, info)
	if err != nil {
		return 0, err
	}
	read := func(register, field string) (uint64, error) {
		reg, err := info.Register(register)
		if err != nil {
			return 0, err
		}
		raw, err := dump.Read(0, reg.Offset, reg.Width)
		if err != nil {
			return 0, errors.Wrapf(err, "TPMI device %s", pci)
		}
		return b.specs.DecodeField(info.Name, register, field, raw)
	}
	version, err := read("TPMI_INFO_HEADER", "INTERFACE_VERSION")
	if err != nil {
		return 0, err
	}
	major, minor := (version>>5)&0x7, version&0x1f
	if major != 0 || minor != 2 {
		return 0, errors.Wrapf(backend.ErrNotSupported, "TPMI interface version %d.%d of device %s, only version 0.2 is supported", major, minor, pci)
	}
	pkg, err := read("TPMI_BUS_INFO", "PACKAGE_ID")
	if err != nil {
		return 0, err
	}
	return int(pkg), nil
}

func (b *TPMI) featurePath(pci string, fid int) string {
	return path.Join(b.root, "tpmi-"+pci, fmt.Sprintf("tpmi-id-%02x", fid))
}

func dumpKey(pci string, f *tpmispec.Feature) string {
	return pci + "/" + f.Name
}

func (b *TPMI) dump(pci string, f *tpmispec.Feature) (*tpmispec.MemDump, error) {
	key := dumpKey(pci, f)
	if v, ok := b.dumps.Get(key); ok {
		return v.(*tpmispec.MemDump), nil
	}
	dumpPath := path.Join(b.featurePath(pci, f.ID), "mem_dump")
	data, err := b.target.ReadFile(dumpPath)
	if err != nil {
		if backend.Unsupported(err) {
			return nil, errors.Wrapf(backend.ErrNotSupported, "TPMI feature %s of device %s (%v)", f.Name, pci, err)
		}
		return nil, errors.Wrapf(err, "failed to read %s", dumpPath)
	}
	dump, err := tpmispec.ParseMemDump(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", dumpPath)
	}
	b.dumps.Add(key, dump)
	return dump, nil
}

// Specs returns the feature set the backend decodes registers with.
func (b *TPMI) Specs() *tpmispec.FeatureSet {
	return b.specs
}

// Packages returns the packages that have TPMI devices.
func (b *TPMI) Packages() []int {
	var pkgs []int
	for _, dev := range b.devices {
		if !slices.Contains(pkgs, dev.pkg) {
			pkgs = append(pkgs, dev.pkg)
		}
	}
	slices.Sort(pkgs)
	return pkgs
}

// Devices returns the PCI addresses of the TPMI devices of pkg.
func (b *TPMI) Devices(pkg int) []string {
	var pcis []string
	for _, dev := range b.devices {
		if dev.pkg == pkg {
			pcis = append(pcis, dev.pci)
		}
	}
	return pcis
}

// UnknownFeatures returns the ids of features present on the system that no spec describes.
func (b *TPMI) UnknownFeatures() []int {
	return slices.Clone(b.unknown)
}

// Features returns the known features present on the system.
func (b *TPMI) Features() []*tpmispec.Feature {
	var features []*tpmispec.Feature
	for _, f := range b.specs.Features() {
		for _, dev := range b.devices {
			if slices.Contains(dev.features, f.ID) {
				features = append(features, f)
				break
			}
		}
	}
	return features
}

// Locations enumerates the device, instance and cluster combinations of a feature on the
// given packages (all packages when none are given), in enumeration order.
func (b *TPMI) Locations(feature string, pkgs ...int) ([]Location, error) {
	f, err := b.specs.Feature(feature)
	if err != nil {
		return nil, err
	}
	var locs []Location
	for _, dev := range b.devices {
		if !slices.Contains(dev.features, f.ID) || (len(pkgs) > 0 && !slices.Contains(pkgs, dev.pkg)) {
			continue
		}
		dump, err := b.dump(dev.pci, f)
		if err != nil {
			return nil, err
		}
		for _, instance := range dump.Instances() {
			bases, err := b.clusterBases(f, dump, instance)
			if err != nil {
				return nil, errors.Wrapf(err, "TPMI device %s instance %d", dev.pci, instance)
			}
			clusters := make([]int, 0, len(bases))
			for cluster := range bases {
				clusters = append(clusters, cluster)
			}
			slices.Sort(clusters)
			for _, cluster := range clusters {
				locs = append(locs, Location{PCI: dev.pci, Package: dev.pkg, Instance: instance, Cluster: cluster})
			}
		}
	}
	if len(locs) == 0 {
		return nil, errors.Wrapf(backend.ErrNotSupported, "TPMI feature %s not present", feature)
	}
	return locs, nil
}

func (b *TPMI) clusterBases(f *tpmispec.Feature, dump *tpmispec.MemDump, instance int) (map[int]uint32, error) {
	return f.ClusterBases(func(reg *tpmispec.Register) (uint64, error) {
		return dump.Read(instance, reg.Offset, reg.Width)
	})
}

func (b *TPMI) resolve(loc Location, feature, register string) (*tpmispec.Feature, *tpmispec.Register, *tpmispec.MemDump, uint32, error) {
	f, err := b.specs.Feature(feature)
	if err != nil {
		return nil, nil, nil, 0, err
	}
	reg, err := f.Register(register)
	if err != nil {
		return nil, nil, nil, 0, err
	}
	idx := slices.IndexFunc(b.devices, func(d device) bool { return d.pci == loc.PCI })
	if idx < 0 || !slices.Contains(b.devices[idx].features, f.ID) {
		return nil, nil, nil, 0, errors.Wrapf(backend.ErrNotSupported, "TPMI feature %s on device %s", feature, loc.PCI)
	}
	dump, err := b.dump(loc.PCI, f)
	if err != nil {
		return nil, nil, nil, 0, err
	}
	if !dump.HasInstance(loc.Instance) {
		return nil, nil, nil, 0, errors.Wrapf(backend.ErrNotSupported, "TPMI feature %s instance %d on device %s", feature, loc.Instance, loc.PCI)
	}
	bases, err := b.clusterBases(f, dump, loc.Instance)
	if err != nil {
		return nil, nil, nil, 0, err
	}
	base, ok := bases[loc.Cluster]
	if !ok {
		return nil, nil, nil, 0, errors.Wrapf(backend.ErrNotSupported, "TPMI feature %s cluster %d at %s", feature, loc.Cluster, loc)
	}
	return f, reg, dump, f.RegisterOffset(reg, base), nil
}

// ReadRegister returns the raw value of a register at loc.
func (b *TPMI) ReadRegister(loc Location, feature, register string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, reg, dump, offset, err := b.resolve(loc, feature, register)
	if err != nil {
		return 0, err
	}
	return dump.Read(loc.Instance, offset, reg.Width)
}

// ReadField returns one bit field of a register at loc.
func (b *TPMI) ReadField(loc Location, feature, register, field string) (uint64, error) {
	raw, err := b.ReadRegister(loc, feature, register)
	if err != nil {
		return 0, err
	}
	return b.specs.DecodeField(feature, register, field, raw)
}

// ReadFieldFresh is ReadField on a newly read mem_dump, for registers the hardware updates on
// its own, such as the current ratio in UFS_STATUS.
func (b *TPMI) ReadFieldFresh(loc Location, feature, register, field string) (uint64, error) {
	f, err := b.specs.Feature(feature)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	b.dumps.Remove(dumpKey(loc.PCI, f))
	b.mu.Unlock()
	return b.ReadField(loc, feature, register, field)
}

// Flush drops all parsed mem_dump files.
func (b *TPMI) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dumps.Purge()
}

// WriteRegister writes a raw register value at loc. 64-bit registers are written as two
// 32-bit words, low word first.
func (b *TPMI) WriteRegister(loc Location, feature, register string, raw uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, reg, _, offset, err := b.resolve(loc, feature, register)
	if err != nil {
		return err
	}
	if raw&^reg.WidthMask() != 0 {
		return errors.Errorf("value %#x does not fit the %d-bit TPMI register %s", raw, reg.Width, register)
	}
	writePath := path.Join(b.featurePath(loc.PCI, f.ID), "mem_write")
	defer b.dumps.Remove(dumpKey(loc.PCI, f))
	for width := reg.Width; width > 0; width -= 32 {
		data := fmt.Sprintf("%d,%d,%#x", loc.Instance, offset, raw&0xFFFFFFFF)
		slog.Debug("writing TPMI register", slog.String("path", writePath), slog.String("register", register), slog.String("data", data))
		if err := b.target.WriteFile(writePath, []byte(data)); err != nil {
			if backend.Unsupported(err) {
				return errors.Wrapf(backend.ErrNotSupported, "writing TPMI feature %s at %s (%v)", feature, loc, err)
			}
			return errors.Wrapf(err, "failed to write TPMI register %s at %s", register, loc)
		}
		offset += 4
		raw >>= 32
	}
	return nil
}

// WriteField sets one bit field of a register at loc, preserving all other bits.
func (b *TPMI) WriteField(loc Location, feature, register, field string, value uint64) error {
	current, err := b.ReadRegister(loc, feature, register)
	if err != nil {
		return err
	}
	raw, err := b.specs.Encode(feature, register, field, value, current)
	if err != nil {
		return err
	}
	if raw == current {
		return nil
	}
	return b.WriteRegister(loc, feature, register, raw)
}

// UFSUnits enumerates the UFS clusters with their agent types, in enumeration order.
func (b *TPMI) UFSUnits() ([]tpmispec.UFSUnit, error) {
	ufs, err := b.specs.Feature(tpmispec.FeatureUFS)
	if err != nil {
		return nil, err
	}
	locs, err := b.Locations(tpmispec.FeatureUFS)
	if err != nil {
		return nil, err
	}
	units := make([]tpmispec.UFSUnit, 0, len(locs))
	for _, loc := range locs {
		status, err := b.ReadRegister(loc, tpmispec.FeatureUFS, "UFS_STATUS")
		if err != nil {
			return nil, err
		}
		agents, err := b.specs.AgentsFromStatus(status)
		if err != nil {
			return nil, err
		}
		units = append(units, tpmispec.UFSUnit{
			Package:  loc.Package,
			PCI:      loc.PCI,
			Instance: loc.Instance,
			Cluster:  loc.Cluster,
			Agents:   agents,
			DieMap:   ufs.DieMap,
		})
	}
	return units, nil
}
