/*
Package target provides a way to interact with local, remote and emulated systems.

All register and file access performed by the power-management backends goes through the
Target interface so that the same code runs against the local host, a host reached over
ssh, or a directory tree holding recorded sysfs/debugfs/MSR data.
*/
package target

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"os"
	"os/exec"
	"sync"
)

// Target represents a machine or system whose files and device nodes can be read and written.
// Missing files are reported with errors that satisfy errors.Is(err, fs.ErrNotExist), and
// device reads the kernel refuses (e.g., an MSR the CPU does not implement) with errors that
// satisfy errors.Is(err, syscall.EIO).
type Target interface {
	// GetName returns the name of the target system.
	GetName() (name string)

	// IsSuperUser checks if the current user is a superuser.
	IsSuperUser() bool

	// ReadFile returns the full contents of the file at path.
	ReadFile(path string) ([]byte, error)

	// WriteFile writes data to the existing file at path, e.g., a sysfs attribute.
	WriteFile(path string, data []byte) error

	// ReadAt reads size bytes at offset from the file at path. It is used for device files
	// such as /dev/cpu/N/msr where the offset selects the register.
	ReadAt(path string, offset int64, size int) ([]byte, error)

	// WriteAt writes data at offset to the file at path.
	WriteAt(path string, offset int64, data []byte) error

	// ListDirectory returns the names of the entries in the directory at path.
	ListDirectory(path string) ([]string, error)

	// Exists reports whether path exists on the target.
	Exists(path string) (bool, error)

	// PullFile transfers a file from the target to the local system.
	PullFile(srcPath string, dstDir string) error

	// RunCommand runs the specified command on the target.
	// Arguments:
	// - cmd: the command to run
	// - timeout: the maximum time allowed for the command to run (zero means no timeout)
	// - reuseSSHConnection: whether to reuse the SSH connection for the command (only relevant for RemoteTarget)
	// It returns the standard output, standard error, exit code, and any error that occurred.
	RunCommand(cmd *exec.Cmd, timeout int, reuseSSHConnection bool) (stdout string, stderr string, exitCode int, err error)
}

type LocalTarget struct {
	host string
}

type RemoteTarget struct {
	name string
	host string
	port string
	user string
	key  string
}

// EmulTarget serves files from a directory tree that mirrors the root file system of a
// recorded host. It is used to replay recorded data and by tests.
type EmulTarget struct {
	name  string
	root  string
	hooks map[string]WriteHook
	// readHooks serve ReadAt of device nodes emulated in memory
	readHooks map[string]ReadHook
	mu        sync.Mutex
}

// WriteHook is called instead of writing the file when an EmulTarget file with a hook is
// written. It receives the offset (zero for whole-file writes) and the data.
type WriteHook func(offset int64, data []byte) error

// ReadHook is called instead of reading the file when ReadAt is used on an EmulTarget path
// with a hook. It receives the offset and the number of bytes to read.
type ReadHook func(offset int64, size int) ([]byte, error)

// NewLocalTarget creates a new LocalTarget
func NewLocalTarget() *LocalTarget {
	hostName, err := os.Hostname()
	if err != nil {
		hostName = "localhost"
	}
	t := &LocalTarget{
		host: hostName,
	}
	return t
}

// NewRemoteTarget creates a new RemoteTarget instance with the provided parameters.
func NewRemoteTarget(name string, host string, port string, user string, key string) *RemoteTarget {
	t := &RemoteTarget{
		name: name,
		host: host,
		port: port,
		user: user,
		key:  key,
	}
	return t
}

// NewEmulTarget creates an EmulTarget rooted at root.
func NewEmulTarget(name string, root string) *EmulTarget {
	if name == "" {
		name = "emulated"
	}
	return &EmulTarget{
		name:      name,
		root:      root,
		hooks:     make(map[string]WriteHook),
		readHooks: make(map[string]ReadHook),
	}
}
