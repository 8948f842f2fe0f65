package target

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// runLocalCommand runs cmd on the local host, feeding it input when not empty. A timeout of
// zero seconds means no timeout. The exit code is only set when the command ran and failed.
func runLocalCommand(cmd *exec.Cmd, input string, timeout int) (stdout string, stderr string, exitCode int, err error) {
	slog.Debug("running local command", slog.String("cmd", cmd.String()), slog.Int("input_bytes", len(input)), slog.Int("timeout", timeout))
	if timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
		defer cancel()
		withTimeout := exec.CommandContext(ctx, cmd.Path, cmd.Args[1:]...) // #nosec G204 // nosemgrep
		withTimeout.Env = cmd.Env
		cmd = withTimeout
	}
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}
	var outbuf, errbuf strings.Builder
	cmd.Stdout = &outbuf
	cmd.Stderr = &errbuf
	err = cmd.Run()
	var exitError *exec.ExitError
	if errors.As(err, &exitError) {
		exitCode = exitError.ExitCode()
	}
	return outbuf.String(), errbuf.String(), exitCode, err
}

// classifyRemoteError maps the stderr of a failed remote file operation onto the errors the
// local file system would have returned, so callers can use errors.Is uniformly.
func classifyRemoteError(op string, path string, stderr string, err error) error {
	var kind error
	switch {
	case strings.Contains(stderr, "No such file or directory"):
		kind = fs.ErrNotExist
	case strings.Contains(stderr, "Permission denied"), strings.Contains(stderr, "Operation not permitted"):
		kind = fs.ErrPermission
	case strings.Contains(stderr, "Input/output error"):
		kind = syscall.EIO
	default:
		kind = fmt.Errorf("%v: %s", err, strings.TrimSpace(stderr))
	}
	return &fs.PathError{Op: op, Path: path, Err: kind}
}
