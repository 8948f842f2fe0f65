package target

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// RunCommand executes a command on the remote target using SSH. It prepares the
// local command to be executed, optionally reusing an existing SSH connection,
// and runs it with a specified timeout.
func (t *RemoteTarget) RunCommand(cmd *exec.Cmd, timeout int, reuseSSHConnection bool) (stdout string, stderr string, exitCode int, err error) {
	localCommand := t.prepareLocalCommand(cmd, reuseSSHConnection)
	return runLocalCommand(localCommand, "", timeout)
}

func (t *RemoteTarget) runCommandWithInput(cmd *exec.Cmd, input string) (stdout string, stderr string, exitCode int, err error) {
	localCommand := t.prepareLocalCommand(cmd, true)
	return runLocalCommand(localCommand, input, 0)
}

func (t *RemoteTarget) GetName() (host string) {
	if t.name == "" {
		return t.host
	}
	return t.name
}

func (t *RemoteTarget) IsSuperUser() bool {
	return t.user == "root"
}

func (t *RemoteTarget) ReadFile(path string) ([]byte, error) {
	stdout, stderr, _, err := t.RunCommand(exec.Command("cat", quote(path)), 0, true)
	if err != nil {
		return nil, classifyRemoteError("open", path, stderr, err)
	}
	return []byte(stdout), nil
}

func (t *RemoteTarget) WriteFile(path string, data []byte) error {
	_, stderr, _, err := t.runCommandWithInput(exec.Command("cat", ">", quote(path)), string(data))
	if err != nil {
		return classifyRemoteError("write", path, stderr, err)
	}
	return nil
}

// ReadAt reads with dd and decodes the od hex dump, the remote shell interprets the pipe.
func (t *RemoteTarget) ReadAt(path string, offset int64, size int) ([]byte, error) {
	cmd := exec.Command("dd", "if="+quote(path), "bs="+strconv.Itoa(size), "count=1", // #nosec G204
		"skip="+strconv.FormatInt(offset, 10), "iflag=skip_bytes", "status=none",
		"|", "od", "-An", "-v", "-tx1")
	stdout, stderr, _, err := t.RunCommand(cmd, 0, true)
	if err != nil || strings.TrimSpace(stderr) != "" {
		return nil, classifyRemoteError("pread", path, stderr, err)
	}
	buf, err := hex.DecodeString(strings.Join(strings.Fields(stdout), ""))
	if err != nil {
		return nil, &fs.PathError{Op: "pread", Path: path, Err: err}
	}
	if len(buf) != size {
		return nil, &fs.PathError{Op: "pread", Path: path, Err: syscall.EIO}
	}
	return buf, nil
}

func (t *RemoteTarget) WriteAt(path string, offset int64, data []byte) error {
	cmd := exec.Command("dd", "of="+quote(path), "bs="+strconv.Itoa(len(data)), "count=1", // #nosec G204
		"seek="+strconv.FormatInt(offset, 10), "oflag=seek_bytes", "conv=notrunc", "status=none")
	_, stderr, _, err := t.runCommandWithInput(cmd, string(data))
	if err != nil {
		return classifyRemoteError("pwrite", path, stderr, err)
	}
	return nil
}

func (t *RemoteTarget) ListDirectory(path string) ([]string, error) {
	stdout, stderr, _, err := t.RunCommand(exec.Command("ls", "-1", quote(path)), 0, true)
	if err != nil {
		return nil, classifyRemoteError("open", path, stderr, err)
	}
	return strings.Fields(stdout), nil
}

func (t *RemoteTarget) Exists(path string) (bool, error) {
	_, stderr, exitCode, err := t.RunCommand(exec.Command("test", "-e", quote(path)), 0, true)
	if err == nil {
		return true, nil
	}
	if exitCode == 1 {
		return false, nil
	}
	return false, fmt.Errorf("failed to check %s on %s: %v: %s", path, t.GetName(), err, stderr)
}

// PullFile copies a file from a remote source path to a local destination directory
// using SCP (Secure Copy Protocol).
func (t *RemoteTarget) PullFile(srcPath string, dstDir string) error {
	scpCommand := t.prepareSCPCommand(srcPath, dstDir)
	localCommand := exec.Command(scpCommand[0], scpCommand[1:]...) // #nosec G204 // nosemgrep
	stdout, stderr, exitCode, err := runLocalCommand(localCommand, "", 0)
	slog.Debug("pull file", slog.String("srcPath", srcPath), slog.String("dstDir", dstDir), slog.String("stdout", stdout), slog.String("stderr", stderr), slog.Int("exitCode", exitCode))
	return err
}

func (t *RemoteTarget) prepareSSHFlags(scp bool, useControlMaster bool) (flags []string) {
	flags = []string{
		"-2",
		"-o",
		"UserKnownHostsFile=/dev/null",
		"-o",
		"StrictHostKeyChecking=no",
		"-o",
		"ConnectTimeout=10",
		"-o",
		"GSSAPIAuthentication=no",
		"-o",
		"ServerAliveInterval=30",
		"-o",
		"ServerAliveCountMax=10",
		"-o",
		"LogLevel=ERROR",
		"-o",
		"BatchMode=yes",
	}
	// every file access is one ssh round trip, so the control master matters a lot here
	if useControlMaster {
		controlPathFlags := []string{
			"-o",
			"ControlPath=" + filepath.Join(os.TempDir(), fmt.Sprintf("control-%%h-%%p-%%r-%d", os.Getpid())),
			"-o",
			"ControlMaster=auto",
			"-o",
			"ControlPersist=1m",
		}
		flags = append(flags, controlPathFlags...)
	}
	if t.key != "" {
		keyFlags := []string{
			"-o",
			"PreferredAuthentications=publickey",
			"-o",
			"PasswordAuthentication=no",
			"-i",
			t.key,
		}
		flags = append(flags, keyFlags...)
	}
	if t.port != "" {
		if scp {
			flags = append(flags, "-P")
		} else {
			flags = append(flags, "-p")
		}
		flags = append(flags, t.port)
	}
	return
}

func (t *RemoteTarget) prepareSSHCommand(command []string, useControlMaster bool) []string {
	var cmd []string
	cmd = append(cmd, "ssh")
	cmd = append(cmd, t.prepareSSHFlags(false, useControlMaster)...)
	cmd = append(cmd, t.destination())
	cmd = append(cmd, "--")
	cmd = append(cmd, command...)
	return cmd
}

func (t *RemoteTarget) prepareSCPCommand(src string, dstDir string) []string {
	var cmd []string
	cmd = append(cmd, "scp")
	cmd = append(cmd, t.prepareSSHFlags(true, true)...)
	cmd = append(cmd, t.destination()+":"+src)
	cmd = append(cmd, dstDir)
	return cmd
}

func (t *RemoteTarget) destination() string {
	if t.user != "" {
		return t.user + "@" + t.host
	}
	return t.host
}

func (t *RemoteTarget) prepareLocalCommand(cmd *exec.Cmd, useControlMaster bool) *exec.Cmd {
	sshCommand := t.prepareSSHCommand(cmd.Args, useControlMaster)
	return exec.Command(sshCommand[0], sshCommand[1:]...) // #nosec G204 // nosemgrep
}

// quote protects a path from the remote shell, which re-parses the ssh command line.
func quote(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}
