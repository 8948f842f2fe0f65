package common

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"powerconf/internal/app"
	"powerconf/internal/target"
	"powerconf/internal/util"
)

// target flags
var (
	flagTargetHost    string
	flagTargetPort    string
	flagTargetUser    string
	flagTargetKeyFile string
	flagTargetsFile   string
	flagEmulRoot      string
)

// target flag names
const (
	flagTargetsFileName = "targets"
	flagTargetHostName  = "target"
	flagTargetPortName  = "port"
	flagTargetUserName  = "user"
	flagTargetKeyName   = "key"
	flagEmulRootName    = "emul-root"
)

var targetFlags = []app.Flag{
	{Name: flagTargetHostName, Help: "host name or IP address of remote target"},
	{Name: flagTargetPortName, Help: "port for SSH to remote target"},
	{Name: flagTargetUserName, Help: "user name for SSH to remote target"},
	{Name: flagTargetKeyName, Help: "private key file for SSH to remote target"},
	{Name: flagTargetsFileName, Help: "file with remote target(s) connection details. See targets.yaml for format."},
	{Name: flagEmulRootName, Help: "directory with recorded sysfs, procfs and debugfs data to use instead of a live system"},
}

func AddTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagTargetHost, flagTargetHostName, "", targetFlags[0].Help)
	cmd.Flags().StringVar(&flagTargetPort, flagTargetPortName, "", targetFlags[1].Help)
	cmd.Flags().StringVar(&flagTargetUser, flagTargetUserName, "", targetFlags[2].Help)
	cmd.Flags().StringVar(&flagTargetKeyFile, flagTargetKeyName, "", targetFlags[3].Help)
	cmd.Flags().StringVar(&flagTargetsFile, flagTargetsFileName, "", targetFlags[4].Help)
	cmd.Flags().StringVar(&flagEmulRoot, flagEmulRootName, "", targetFlags[5].Help)

	cmd.MarkFlagsMutuallyExclusive(flagTargetHostName, flagTargetsFileName, flagEmulRootName)
}

func GetTargetFlagGroup() app.FlagGroup {
	return app.FlagGroup{
		GroupName: "Target Options",
		Flags:     targetFlags,
	}
}

var (
	userNameRe = regexp.MustCompile(`^([a-zA-Z0-9_-]+)$`)
	hostNameRe = regexp.MustCompile(`^([a-zA-Z0-9.:-]+)$`)
)

func ValidateTargetFlags(cmd *cobra.Command) error {
	if flagTargetsFile != "" && flagTargetHost != "" {
		return fmt.Errorf("only one of --%s or --%s can be specified", flagTargetsFileName, flagTargetHostName)
	}
	if flagEmulRoot != "" && (flagTargetHost != "" || flagTargetsFile != "") {
		return fmt.Errorf("--%s cannot be combined with --%s or --%s", flagEmulRootName, flagTargetHostName, flagTargetsFileName)
	}
	if flagTargetsFile != "" && (flagTargetPort != "" || flagTargetUser != "" || flagTargetKeyFile != "") {
		return fmt.Errorf("if --%s is specified, --%s, --%s, and --%s must not be specified", flagTargetsFileName, flagTargetPortName, flagTargetUserName, flagTargetKeyName)
	}
	if (flagTargetPort != "" || flagTargetUser != "" || flagTargetKeyFile != "") && flagTargetHost == "" {
		return fmt.Errorf("if --%s, --%s, or --%s is specified, --%s must also be specified", flagTargetPortName, flagTargetUserName, flagTargetKeyName, flagTargetHostName)
	}
	// confirm that the targets file exists
	if flagTargetsFile != "" {
		if _, err := os.Stat(flagTargetsFile); os.IsNotExist(err) {
			return fmt.Errorf("targets file %s does not exist", flagTargetsFile)
		}
	}
	// confirm that the emulation root is a directory
	if flagEmulRoot != "" {
		if exists, err := util.DirectoryExists(flagEmulRoot); err != nil || !exists {
			return fmt.Errorf("emulation root %s is not a directory", flagEmulRoot)
		}
	}
	// confirm that port is a positive integer
	if flagTargetPort != "" {
		if port, err := strconv.Atoi(flagTargetPort); err != nil || port <= 0 {
			return fmt.Errorf("port %s is not a positive integer", flagTargetPort)
		}
	}
	// confirm that the key file exists
	if flagTargetKeyFile != "" {
		if _, err := os.Stat(flagTargetKeyFile); os.IsNotExist(err) {
			return fmt.Errorf("key file %s does not exist", flagTargetKeyFile)
		}
	}
	// confirm that user is a valid user name
	if flagTargetUser != "" && !userNameRe.MatchString(flagTargetUser) {
		return fmt.Errorf("user name %s contains invalid characters", flagTargetUser)
	}
	// confirm that host is a valid host name or IP address
	if flagTargetHost != "" && !hostNameRe.MatchString(flagTargetHost) {
		return fmt.Errorf("host name %s is not a valid host name or IP address", flagTargetHost)
	}
	return nil
}

// GetTargets returns the targets the target flags of cmd name: the hosts of a targets file, a
// remote host, an emulated system or the local host.
func GetTargets(cmd *cobra.Command) ([]target.Target, error) {
	targetsFile, _ := cmd.Flags().GetString(flagTargetsFileName)
	if targetsFile != "" {
		return getTargetsFromFile(targetsFile)
	}
	emulRoot, _ := cmd.Flags().GetString(flagEmulRootName)
	if emulRoot != "" {
		root, err := util.AbsPath(emulRoot)
		if err != nil {
			return nil, err
		}
		slog.Info("Creating emulated target", slog.String("root", root))
		return []target.Target{target.NewEmulTarget("", root)}, nil
	}
	targetHost, _ := cmd.Flags().GetString(flagTargetHostName)
	if targetHost != "" {
		targetPort, _ := cmd.Flags().GetString(flagTargetPortName)
		targetUser, _ := cmd.Flags().GetString(flagTargetUserName)
		targetKey, _ := cmd.Flags().GetString(flagTargetKeyName)
		return []target.Target{getRemoteTarget(targetHost, targetHost, targetPort, targetUser, targetKey)}, nil
	}
	return []target.Target{target.NewLocalTarget()}, nil
}

// getRemoteTarget creates a new remote target object based on the provided parameters.
func getRemoteTarget(name, host, port, user, key string) target.Target {
	// if port is empty, default to 22
	if port == "" {
		port = "22"
	}
	if key != "" {
		key = util.ExpandUser(key)
	}
	slog.Info("Creating remote target", slog.String("targetHost", host), slog.String("targetPort", port), slog.String("targetUser", user))
	return target.NewRemoteTarget(name, host, port, user, key)
}

type targetFromYAML struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	User string `yaml:"user"`
	Key  string `yaml:"key"`
	Pwd  string `yaml:"pwd"`
}

type targetsFile struct {
	Targets []targetFromYAML `yaml:"targets"`
}

// sanitizeTargetName sanitizes the target name by removing any invalid characters.
func sanitizeTargetName(targetName string) string {
	// we only allow alphanumeric characters, underscores, periods, and dashes
	// everything else is replaced with an underscore
	sanitizedTargetName := strings.Map(func(r rune) rune {
		if r == '-' || r == '_' || r == '.' {
			return r
		}
		if r >= 'a' && r <= 'z' {
			return r
		}
		if r >= 'A' && r <= 'Z' {
			return r
		}
		if r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, targetName)
	return sanitizedTargetName
}

// parseTargetsFile parses the contents of a targets file.
func parseTargetsFile(data []byte) ([]targetFromYAML, error) {
	var tf targetsFile
	if err := yaml.UnmarshalStrict(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse targets file: %w", err)
	}
	if len(tf.Targets) == 0 {
		return nil, fmt.Errorf("targets file lists no targets")
	}
	targetNameUsed := make(map[string]bool)
	for i := range tf.Targets {
		t := &tf.Targets[i]
		if t.Host == "" {
			return nil, fmt.Errorf("target %d in targets file has no host", i+1)
		}
		if t.Pwd != "" {
			return nil, fmt.Errorf("target %s: password authentication is not supported, use a key", t.Host)
		}
		// target name is not required, but if it is provided there must not be duplicate names
		if t.Name == "" {
			t.Name = t.Host
		}
		name := sanitizeTargetName(t.Name)
		if targetNameUsed[name] {
			return nil, fmt.Errorf("duplicate target name (after sanitized) found in targets file: original: %s, sanitized: %s", t.Name, name)
		}
		targetNameUsed[name] = true
		t.Name = name
	}
	return tf.Targets, nil
}

// getTargetsFromFile reads a targets file and returns a list of target objects.
func getTargetsFromFile(targetsFilePath string) ([]target.Target, error) {
	data, err := os.ReadFile(targetsFilePath) // #nosec G304
	if err != nil {
		return nil, err
	}
	entries, err := parseTargetsFile(data)
	if err != nil {
		return nil, err
	}
	var targets []target.Target
	for _, t := range entries {
		targets = append(targets, getRemoteTarget(t.Name, t.Host, t.Port, t.User, t.Key))
	}
	return targets, nil
}
