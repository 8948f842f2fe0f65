// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

// Package cpus provides Intel CPU model definitions keyed by VFM (vendor, family, model) and
// the model groups that platform-specific power-management behavior is keyed on.
package cpus

import (
	"fmt"
	"slices"
	"strings"
)

const IntelVendor = "GenuineIntel"

// Vendor codes used in the VFM encoding, same numbering as the Linux kernel.
const (
	VendorIntel = 0
	VendorAMD   = 2
)

// VFM packs vendor, family and model into one comparable value: (vendor<<16)|(family<<8)|model.
type VFM uint32

// MakeVFM builds a VFM from its parts.
func MakeVFM(vendor, family, model int) VFM {
	return VFM((vendor&0xFF)<<16 | (family&0xFF)<<8 | model&0xFF)
}

// IntelVFM builds a family 6 Intel VFM, which covers every model in this package except DMR.
func IntelVFM(model int) VFM {
	return MakeVFM(VendorIntel, 6, model)
}

func (v VFM) Vendor() int { return int(v>>16) & 0xFF }
func (v VFM) Family() int { return int(v>>8) & 0xFF }
func (v VFM) Model() int  { return int(v) & 0xFF }

func (v VFM) String() string {
	return fmt.Sprintf("%#x", uint32(v))
}

// Microarchitecture constants
const (
	UarchHSW = "HSW"
	UarchBDW = "BDW"
	UarchSKL = "SKL"
	UarchKBL = "KBL"
	UarchICL = "ICL"
	UarchTGL = "TGL"
	UarchRKL = "RKL"
	UarchADL = "ADL"
	UarchRPL = "RPL"
	UarchMTL = "MTL"
	UarchLNL = "LNL"
	UarchARL = "ARL"

	UarchHSX = "HSX"
	UarchBDX = "BDX"
	UarchSKX = "SKX"
	UarchICX = "ICX"
	UarchSPR = "SPR"
	UarchEMR = "EMR"
	UarchGNR = "GNR"
	UarchSRF = "SRF"
	UarchCWF = "CWF"
	UarchDMR = "DMR"

	UarchSLM = "SLM"
	UarchAMT = "AMT"
	UarchGLM = "GLM"
	UarchTMT = "TMT"
	UarchGRR = "GRR"
	UarchKNL = "KNL"
	UarchKNM = "KNM"
)

// Model names follow the Linux kernel intel-family.h naming.
const (
	ModelDarkmontX      = 0xDD
	ModelCrestmontX     = 0xAF
	ModelGraniteRapidsX = 0xAD
	ModelGraniteRapidsD = 0xAE
	ModelEmeraldRapidsX = 0xCF
	ModelSapphireRapids = 0x8F
	ModelIcelakeX       = 0x6A
	ModelIcelakeD       = 0x6C
	ModelSkylakeX       = 0x55
	ModelBroadwellX     = 0x4F
	ModelBroadwellD     = 0x56
	ModelHaswellX       = 0x3F
	ModelLunarlakeM     = 0xBD
	ModelMeteorlake     = 0xAC
	ModelMeteorlakeL    = 0xAA
	ModelRaptorlake     = 0xB7
	ModelRaptorlakeP    = 0xBA
	ModelRaptorlakeS    = 0xBF
	ModelAlderlake      = 0x97
	ModelAlderlakeL     = 0x9A
	ModelAlderlakeN     = 0xBE
	ModelArrowlake      = 0xC6
	ModelArrowlakeH     = 0xC5
	ModelRocketlake     = 0xA7
	ModelTigerlake      = 0x8D
	ModelTigerlakeL     = 0x8C
	ModelIcelakeL       = 0x7E
	ModelKabylake       = 0x9E
	ModelKabylakeL      = 0x8E
	ModelSkylake        = 0x5E
	ModelSkylakeL       = 0x4E
	ModelBroadwell      = 0x3D
	ModelHaswell        = 0x3C
	ModelCrestmont      = 0xB6
	ModelTremontD       = 0x86
	ModelGoldmontD      = 0x5F
	ModelGoldmont       = 0x5C
	ModelAirmont        = 0x4C
	ModelSilvermont     = 0x37
	ModelSilvermontD    = 0x4D
	ModelSilvermontMID  = 0x4A
	ModelPhiKNL         = 0x57
	ModelPhiKNM         = 0x85
)

// CPU describes one known processor model.
type CPU struct {
	VFM               VFM
	Name              string
	MicroArchitecture string
	Codename          string
}

var cpuTable = []CPU{
	// Xeons
	{MakeVFM(VendorIntel, 19, 0x01), "PANTHERCOVE_X", UarchDMR, "Diamond Rapids Xeon"},
	{IntelVFM(ModelDarkmontX), "ATOM_DARKMONT_X", UarchCWF, "Clearwater Forest Xeon"},
	{IntelVFM(ModelCrestmontX), "ATOM_CRESTMONT_X", UarchSRF, "Sierra Forest Xeon"},
	{IntelVFM(ModelGraniteRapidsX), "GRANITERAPIDS_X", UarchGNR, "Granite Rapids Xeon"},
	{IntelVFM(ModelGraniteRapidsD), "GRANITERAPIDS_D", UarchGNR, "Granite Rapids Xeon D"},
	{IntelVFM(ModelEmeraldRapidsX), "EMERALDRAPIDS_X", UarchEMR, "Emerald Rapids Xeon"},
	{IntelVFM(ModelSapphireRapids), "SAPPHIRERAPIDS_X", UarchSPR, "Sapphire Rapids Xeon"},
	{IntelVFM(ModelIcelakeX), "ICELAKE_X", UarchICX, "Ice Lake Xeon"},
	{IntelVFM(ModelIcelakeD), "ICELAKE_D", UarchICX, "Ice Lake Xeon D"},
	{IntelVFM(ModelSkylakeX), "SKYLAKE_X", UarchSKX, "Skylake, Cascade Lake, or Cooper Lake Xeon"},
	{IntelVFM(ModelBroadwellX), "BROADWELL_X", UarchBDX, "Broadwell Xeon"},
	{IntelVFM(ModelBroadwellD), "BROADWELL_D", UarchBDX, "Broadwell Xeon-D"},
	{IntelVFM(ModelHaswellX), "HASWELL_X", UarchHSX, "Haswell Xeon"},
	// Clients
	{IntelVFM(ModelLunarlakeM), "LUNARLAKE_M", UarchLNL, "Lunar Lake mobile"},
	{IntelVFM(ModelArrowlake), "ARROWLAKE", UarchARL, "Arrow Lake client"},
	{IntelVFM(ModelArrowlakeH), "ARROWLAKE_H", UarchARL, "Arrow Lake mobile"},
	{IntelVFM(ModelMeteorlake), "METEORLAKE", UarchMTL, "Meteor Lake client"},
	{IntelVFM(ModelMeteorlakeL), "METEORLAKE_L", UarchMTL, "Meteor Lake mobile"},
	{IntelVFM(ModelRaptorlake), "RAPTORLAKE", UarchRPL, "Raptor Lake client"},
	{IntelVFM(ModelRaptorlakeP), "RAPTORLAKE_P", UarchRPL, "Raptor Lake mobile"},
	{IntelVFM(ModelRaptorlakeS), "RAPTORLAKE_S", UarchRPL, "Raptor Lake client"},
	{IntelVFM(ModelAlderlake), "ALDERLAKE", UarchADL, "Alder Lake client"},
	{IntelVFM(ModelAlderlakeL), "ALDERLAKE_L", UarchADL, "Alder Lake mobile"},
	{IntelVFM(ModelAlderlakeN), "ALDERLAKE_N", UarchADL, "Alder Lake mobile"},
	{IntelVFM(ModelRocketlake), "ROCKETLAKE", UarchRKL, "Rocket Lake client"},
	{IntelVFM(ModelTigerlake), "TIGERLAKE", UarchTGL, "Tiger Lake client"},
	{IntelVFM(ModelTigerlakeL), "TIGERLAKE_L", UarchTGL, "Tiger Lake mobile"},
	{IntelVFM(ModelIcelakeL), "ICELAKE_L", UarchICL, "Ice Lake mobile"},
	{IntelVFM(ModelKabylake), "KABYLAKE", UarchKBL, "Kaby Lake client"},
	{IntelVFM(ModelKabylakeL), "KABYLAKE_L", UarchKBL, "Kaby Lake mobile"},
	{IntelVFM(ModelSkylake), "SKYLAKE", UarchSKL, "Skylake client"},
	{IntelVFM(ModelSkylakeL), "SKYLAKE_L", UarchSKL, "Skylake mobile"},
	{IntelVFM(ModelBroadwell), "BROADWELL", UarchBDW, "Broadwell client"},
	{IntelVFM(ModelHaswell), "HASWELL", UarchHSW, "Haswell client"},
	// Atoms
	{IntelVFM(ModelCrestmont), "ATOM_CRESTMONT", UarchGRR, "Grand Ridge, Logansville"},
	{IntelVFM(ModelTremontD), "ATOM_TREMONT_D", UarchTMT, "Snow Ridge, Jacobsville"},
	{IntelVFM(ModelGoldmontD), "ATOM_GOLDMONT_D", UarchGLM, "Denverton, Harrisonville"},
	{IntelVFM(ModelGoldmont), "ATOM_GOLDMONT", UarchGLM, "Apollo Lake"},
	{IntelVFM(ModelAirmont), "ATOM_AIRMONT", UarchAMT, "Cherry Trail, Braswell"},
	{IntelVFM(ModelSilvermont), "ATOM_SILVERMONT", UarchSLM, "Bay Trail, Valleyview"},
	{IntelVFM(ModelSilvermontD), "ATOM_SILVERMONT_D", UarchSLM, "Avaton, Rangely"},
	{IntelVFM(ModelSilvermontMID), "ATOM_SILVERMONT_MID", UarchSLM, "Merriefield"},
	// Xeon Phi
	{IntelVFM(ModelPhiKNM), "XEON_PHI_KNM", UarchKNM, "Knights Mill"},
	{IntelVFM(ModelPhiKNL), "XEON_PHI_KNL", UarchKNL, "Knights Landing"},
}

// Model groups that platform-specific behavior is keyed on.
const (
	GroupSilvermont = "SILVERMONT"
	GroupAirmont    = "AIRMONT"
	GroupPhi        = "PHI"
	GroupICX        = "ICX"
	GroupSPR        = "SPR"
	GroupEMR        = "EMR"
	GroupGNR        = "GNR"
	GroupCrestmont  = "CRESTMONT"
	GroupDarkmont   = "DARKMONT"
	GroupHybrid     = "HYBRID"
)

var modelGroups = map[string][]VFM{
	GroupSilvermont: {IntelVFM(ModelSilvermont), IntelVFM(ModelSilvermontD), IntelVFM(ModelSilvermontMID)},
	GroupAirmont:    {IntelVFM(ModelAirmont)},
	GroupPhi:        {IntelVFM(ModelPhiKNL), IntelVFM(ModelPhiKNM)},
	GroupICX:        {IntelVFM(ModelIcelakeX), IntelVFM(ModelIcelakeD)},
	GroupSPR:        {IntelVFM(ModelSapphireRapids)},
	GroupEMR:        {IntelVFM(ModelEmeraldRapidsX)},
	GroupGNR:        {IntelVFM(ModelGraniteRapidsX), IntelVFM(ModelGraniteRapidsD)},
	GroupCrestmont:  {IntelVFM(ModelCrestmontX), IntelVFM(ModelCrestmont)},
	GroupDarkmont:   {IntelVFM(ModelDarkmontX)},
	GroupHybrid: {IntelVFM(ModelLunarlakeM), IntelVFM(ModelArrowlake), IntelVFM(ModelArrowlakeH),
		IntelVFM(ModelMeteorlake), IntelVFM(ModelMeteorlakeL), IntelVFM(ModelRaptorlake),
		IntelVFM(ModelRaptorlakeP), IntelVFM(ModelRaptorlakeS), IntelVFM(ModelAlderlake),
		IntelVFM(ModelAlderlakeL)},
}

// GetCPU returns the model table entry for vfm.
func GetCPU(vfm VFM) (CPU, error) {
	for _, cpu := range cpuTable {
		if cpu.VFM == vfm {
			return cpu, nil
		}
	}
	return CPU{}, fmt.Errorf("CPU model not found for VFM %s (family %d, model %#x)", vfm, vfm.Family(), vfm.Model())
}

// GetCPUByMicroArchitecture returns the first model table entry with the given
// microarchitecture name, falling back to a case-insensitive match.
func GetCPUByMicroArchitecture(uarch string) (CPU, error) {
	for _, cpu := range cpuTable {
		if cpu.MicroArchitecture == uarch {
			return cpu, nil
		}
	}
	for _, cpu := range cpuTable {
		if strings.EqualFold(cpu.MicroArchitecture, uarch) {
			return cpu, nil
		}
	}
	return CPU{}, fmt.Errorf("CPU microarchitecture not found: %s", uarch)
}

// InGroup reports whether vfm belongs to any of the named model groups.
func InGroup(vfm VFM, groups ...string) bool {
	for _, group := range groups {
		if slices.Contains(modelGroups[group], vfm) {
			return true
		}
	}
	return false
}

// GroupVFMs returns the models of a group.
func GroupVFMs(group string) []VFM {
	return slices.Clone(modelGroups[group])
}

// IsIntelCPUFamily reports whether family is a family that carries Intel models known here.
func IsIntelCPUFamily(family int) bool {
	return family == 6 || family == 19
}
