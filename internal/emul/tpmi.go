package emul

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// TPMI feature ids and register layout of the emulated devices, matching the built-in specs.
const (
	FeatureIDInfo = 0x81
	FeatureIDUFS  = 2

	tpmiInterfaceVersion = 0x02

	ufsStatusOffset  = 0
	ufsControlOffset = 8
)

// UFS_STATUS agent type bits.
const (
	AgentCoreBit   = 1 << 23
	AgentCacheBit  = 1 << 24
	AgentMemoryBit = 1 << 25
	AgentIOBit     = 1 << 26
)

// UFSCluster is the content of one UFS cluster.
type UFSCluster struct {
	Status  uint64
	Control uint64
}

// UFSControl composes a UFS_CONTROL value from ratios (100MHz units) and ELC settings.
// Thresholds are raw 0-127 values.
func UFSControl(minRatio, maxRatio, elcLowRatio, lowThreshold, highThreshold uint64, highEnable bool) uint64 {
	v := maxRatio<<8 | minRatio<<15 | elcLowRatio<<22 | lowThreshold<<32 | highThreshold<<40
	if highEnable {
		v |= 1 << 39
	}
	return v
}

// AddTPMIDevice adds a TPMI device with the info feature for pkg.
func (s *System) AddTPMIDevice(pci string, pkg int) error {
	if err := s.SetTPMI(pci, FeatureIDInfo, 0, 0, 64, tpmiInterfaceVersion); err != nil {
		return err
	}
	return s.SetTPMI(pci, FeatureIDInfo, 0, 8, 64, uint64(pkg)<<16)
}

// AddUFSInstance adds an instance of the UFS feature with the given clusters to a device.
// Cluster n is placed at offset 0x10 + n*0x10 of the instance.
func (s *System) AddUFSInstance(pci string, instance int, clusters ...UFSCluster) error {
	var mask, offsets uint64
	for n := range clusters {
		mask |= 1 << n
		offsets |= uint64(2+2*n) << (8 * n)
	}
	if err := s.SetTPMI(pci, FeatureIDUFS, instance, 0, 64, mask<<8); err != nil {
		return err
	}
	if err := s.SetTPMI(pci, FeatureIDUFS, instance, 8, 64, offsets); err != nil {
		return err
	}
	for n, c := range clusters {
		base := uint32(0x10 + n*0x10)
		if err := s.SetTPMI(pci, FeatureIDUFS, instance, base+ufsStatusOffset, 64, c.Status); err != nil {
			return err
		}
		if err := s.SetTPMI(pci, FeatureIDUFS, instance, base+ufsControlOffset, 64, c.Control); err != nil {
			return err
		}
	}
	return nil
}

// UFSControlValue returns the UFS_CONTROL register of a cluster.
func (s *System) UFSControlValue(pci string, instance, cluster int) uint64 {
	base := uint32(0x10 + cluster*0x10)
	lo, _ := s.TPMI(pci, FeatureIDUFS, instance, base+ufsControlOffset)
	hi, _ := s.TPMI(pci, FeatureIDUFS, instance, base+ufsControlOffset+4)
	return uint64(hi)<<32 | uint64(lo)
}

// SetUFSStatus replaces the UFS_STATUS register of a cluster, as the hardware does when the
// current ratio changes.
func (s *System) SetUFSStatus(pci string, instance, cluster int, status uint64) error {
	return s.SetTPMI(pci, FeatureIDUFS, instance, uint32(0x10+cluster*0x10)+ufsStatusOffset, 64, status)
}
