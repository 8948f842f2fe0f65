// Package property implements the property class commands, e.g. "pstates info" and
// "uncore config".
package property

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"powerconf/internal/app"
	"powerconf/internal/common"
	"powerconf/internal/props"
)

type classInfo struct {
	short string
	long  string
}

var classes = map[string]classInfo{
	props.ClassPStates: {
		short: "P-state properties",
		long:  "CPU frequency limits, turbo, HWP, EPP and EPB, the frequency driver and governor.",
	},
	props.ClassUncore: {
		short: "Uncore frequency properties",
		long:  "Uncore frequency limits of the compute and I/O dies, and the Efficiency Latency Control (ELC) settings.",
	},
	props.ClassCStates: {
		short: "C-state properties",
		long:  "Requestable C-states, package C-state limit, C1 demotion and auto-promotion, C-state pre-wake, and the idle driver and governor.",
	},
	props.ClassPMQoS: {
		short: "PM QoS properties",
		long:  "Linux power management quality of service latency limits.",
	},
	props.ClassPower: {
		short: "RAPL power properties",
		long:  "Package power limits PL1 and PL2, and the thermal design power.",
	},
}

// Commands returns the commands of all property classes.
func Commands() []*cobra.Command {
	var cmds []*cobra.Command
	for _, class := range props.Classes {
		cmds = append(cmds, NewCmd(class))
	}
	return cmds
}

// NewCmd returns the command of a property class with its "info" and "config" subcommands.
func NewCmd(class string) *cobra.Command {
	info := classes[class]
	cmd := &cobra.Command{
		Use:     class,
		Short:   info.short,
		Long:    info.long,
		GroupID: "primary",
		Args:    cobra.NoArgs,
	}
	cmd.AddCommand(newInfoCmd(class), newConfigCmd(class))
	return cmd
}

// propertyFlagGroup returns the property flags of a class for usage output. Only writable
// properties are listed when writable is set.
func propertyFlagGroup(class string, writable bool) app.FlagGroup {
	group := app.FlagGroup{GroupName: "Property Options"}
	for _, p := range common.Registry().Class(class) {
		if writable && !p.Writable {
			continue
		}
		group.Flags = append(group.Flags, app.Flag{Name: p.Flag(), Help: propertyHelp(p)})
	}
	return group
}

func propertyHelp(p *props.Property) string {
	help := p.Label
	if p.Help != "" {
		help += ": " + p.Help
	}
	if len(p.Specials) > 0 {
		help += " (also " + strings.Join(p.Specials, ", ") + ")"
	}
	return help
}

// openSystems opens the target systems and reports those that failed. It fails only when no
// system could be opened.
func openSystems(cmd *cobra.Command) ([]*common.System, error) {
	appContext := common.GetAppContext(cmd)
	targets, err := common.GetTargets(cmd)
	if err != nil {
		return nil, err
	}
	systems, err := common.OpenSystems(cmd.Context(), targets, appContext.LocalTempDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	var opened []*common.System
	for _, sys := range systems {
		if sys == nil {
			continue
		}
		if sys.Notice != nil {
			fmt.Fprintf(os.Stderr, "Notice: %s: %s\n", sys.Name(), sys.Notice)
		}
		opened = append(opened, sys)
	}
	if len(opened) == 0 {
		return nil, errors.New("no targets remain")
	}
	return opened, nil
}

// readProperties reads the named properties on sys. Properties the mechanisms cannot provide
// are skipped unless they were named explicitly.
func readProperties(ctx context.Context, sys *common.System, names []string, explicit bool, cmd *cobra.Command) ([]*props.Result, error) {
	sel := common.GetSelector(cmd)
	mechs, err := common.GetMechanisms(cmd)
	if err != nil {
		return nil, err
	}
	var results []*props.Result
	for _, name := range names {
		res, err := sys.Resolver.ResolveProperty(ctx, name, sel, mechs)
		if res == nil {
			var unsupported *props.UnsupportedMechanismError
			if !explicit && errors.As(err, &unsupported) {
				slog.Debug("skipping property", slog.String("property", name), slog.String("reason", err.Error()))
				continue
			}
			return nil, err
		}
		results = append(results, res)
		if ctx.Err() != nil {
			return results, err
		}
	}
	return results, nil
}
