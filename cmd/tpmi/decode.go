package tpmi

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"powerconf/internal/app"
	tpmibackend "powerconf/internal/backend/tpmi"
	"powerconf/internal/common"
	"powerconf/internal/cpus"
	tpmispec "powerconf/internal/tpmi"
)

const (
	flagFileName = "file"
	flagVFMName  = "vfm"
)

var decodeFlags = []app.Flag{
	{Name: flagFileName, Help: "TPMI mem_dump file to decode (required)"},
	{Name: flagFeatureName, Help: "TPMI feature the dump belongs to (required)"},
	{Name: flagVFMName, Help: "platform of the dump as a VFM number, e.g. 0x6ad, or family:model, e.g. 6:173; the newest known platform when not given"},
	{Name: flagRegistersName, Help: "comma-separated register names, default all"},
	{Name: flagFieldsName, Help: "comma-separated bit field names, default all"},
	{Name: flagInstancesName, Help: "TPMI instance numbers, default all"},
	{Name: flagClustersName, Help: "cluster numbers, default all"},
}

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode a recorded TPMI memory dump",
	Long: `Decodes the registers of a TPMI debugfs mem_dump file recorded on another system. No
target is accessed.`,
	Example: strings.Join([]string{
		fmt.Sprintf("  Decode a UFS dump of a Granite Rapids system:  $ %s %s decode --%s mem_dump --%s ufs --%s 0x6ad", app.Name, cmdName, flagFileName, flagFeatureName, flagVFMName),
	}, "\n"),
	PreRunE:       validateDecodeFlags,
	RunE:          runDecode,
	Args:          cobra.NoArgs,
	SilenceErrors: true,
}

func init() {
	for _, flag := range decodeFlags {
		decodeCmd.Flags().String(flag.Name, "", flag.Help)
	}
	decodeCmd.SetUsageFunc(common.UsageFunc(func(cmd *cobra.Command) []app.FlagGroup {
		return []app.FlagGroup{{GroupName: "Decode Options", Flags: decodeFlags}}
	}))
}

// parseVFM parses a VFM number, decimal or 0x-prefixed hex, or an Intel "family:model" pair.
func parseVFM(s string) (cpus.VFM, error) {
	s = strings.TrimSpace(s)
	if family, model, ok := strings.Cut(s, ":"); ok {
		f, err := strconv.ParseUint(strings.TrimSpace(family), 0, 8)
		if err != nil {
			return 0, fmt.Errorf("bad family in VFM %q", s)
		}
		m, err := strconv.ParseUint(strings.TrimSpace(model), 0, 8)
		if err != nil {
			return 0, fmt.Errorf("bad model in VFM %q", s)
		}
		return cpus.MakeVFM(cpus.VendorIntel, int(f), int(m)), nil
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("bad VFM %q, expected a number like 0x6ad or family:model like 6:173", s)
	}
	return cpus.VFM(v), nil
}

func validateDecodeFlags(cmd *cobra.Command, args []string) error {
	for _, name := range []string{flagFileName, flagFeatureName} {
		if value, _ := cmd.Flags().GetString(name); value == "" {
			return common.FlagValidationError(cmd, fmt.Sprintf("--%s is required", name))
		}
	}
	if file, _ := cmd.Flags().GetString(flagFileName); file != "" {
		if _, err := os.Stat(file); err != nil {
			return common.FlagValidationError(cmd, fmt.Sprintf("cannot access --%s %s: %v", flagFileName, file, err))
		}
	}
	if vfm, _ := cmd.Flags().GetString(flagVFMName); vfm != "" {
		if _, err := parseVFM(vfm); err != nil {
			return common.FlagValidationError(cmd, err.Error())
		}
	}
	if _, err := getLocationFilter(cmd); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	return nil
}

// decodeOptions selects what to decode from a dump.
type decodeOptions struct {
	feature   string
	registers []string
	fields    []string
	filter    locationFilter
}

// decodeDump decodes the registers of a memory dump and writes them to w, per instance and
// cluster.
func decodeDump(w io.Writer, specs *tpmispec.FeatureSet, dump *tpmispec.MemDump, opts decodeOptions) error {
	f, err := specs.Feature(opts.feature)
	if err != nil {
		return err
	}
	regs, err := registerSelection(f, opts.registers)
	if err != nil {
		return err
	}
	if err := checkFields(opts.feature, regs, opts.fields); err != nil {
		return err
	}
	var decoded int
	for _, instance := range dump.Instances() {
		bases, err := f.ClusterBases(func(reg *tpmispec.Register) (uint64, error) {
			return dump.Read(instance, reg.Offset, reg.Width)
		})
		if err != nil {
			return fmt.Errorf("instance %d: %w", instance, err)
		}
		for _, cluster := range slices.Sorted(maps.Keys(bases)) {
			if !opts.filter.match(tpmibackend.Location{Instance: instance, Cluster: cluster}) {
				continue
			}
			fmt.Fprintf(w, "- instance %d cluster %d\n", instance, cluster)
			for _, reg := range regs {
				raw, err := dump.Read(instance, f.RegisterOffset(reg, bases[cluster]), reg.Width)
				if err != nil {
					return err
				}
				if err := writeRegister(w, specs, opts.feature, reg, raw, opts.fields); err != nil {
					return err
				}
			}
			decoded++
		}
	}
	if decoded == 0 {
		return fmt.Errorf("no %s instances or clusters in the dump match the selection", opts.feature)
	}
	return nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString(flagFileName)
	feature, _ := cmd.Flags().GetString(flagFeatureName)
	registers, _ := cmd.Flags().GetString(flagRegistersName)
	fields, _ := cmd.Flags().GetString(flagFieldsName)
	vfmStr, _ := cmd.Flags().GetString(flagVFMName)
	filter, _ := getLocationFilter(cmd)
	var vfm cpus.VFM
	if vfmStr != "" {
		vfm, _ = parseVFM(vfmStr)
	}
	specs, notice, err := common.SpecCache().Load(vfm)
	if err != nil {
		return common.ReportError(cmd, err)
	}
	if notice != nil {
		fmt.Fprintf(os.Stderr, "Notice: %s\n", notice)
	}
	fp, err := os.Open(file) // #nosec G304
	if err != nil {
		return common.ReportError(cmd, err)
	}
	defer fp.Close()
	dump, err := tpmispec.ParseMemDump(fp)
	if err != nil {
		return common.ReportError(cmd, err)
	}
	opts := decodeOptions{feature: feature, registers: splitList(registers), fields: splitList(fields), filter: filter}
	if err := decodeDump(os.Stdout, specs, dump, opts); err != nil {
		return common.ReportError(cmd, err)
	}
	return nil
}
