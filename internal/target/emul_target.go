package target

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

func (t *EmulTarget) GetName() (name string) {
	return t.name
}

// Root returns the directory the target's file system is mapped to.
func (t *EmulTarget) Root() string {
	return t.root
}

func (t *EmulTarget) IsSuperUser() bool {
	return true
}

// OnWrite registers a hook that handles writes to path instead of the file system.
func (t *EmulTarget) OnWrite(path string, hook WriteHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks[filepath.Clean(path)] = hook
}

// OnRead registers a hook that serves ReadAt of path instead of the file system.
func (t *EmulTarget) OnRead(path string, hook ReadHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readHooks[filepath.Clean(path)] = hook
}

func (t *EmulTarget) writeHook(path string) (WriteHook, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	hook, ok := t.hooks[filepath.Clean(path)]
	return hook, ok
}

func (t *EmulTarget) readHook(path string) (ReadHook, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	hook, ok := t.readHooks[filepath.Clean(path)]
	return hook, ok
}

func (t *EmulTarget) hostPath(path string) string {
	return filepath.Join(t.root, filepath.Clean("/"+path))
}

func (t *EmulTarget) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(t.hostPath(path)) // #nosec G304
	return data, t.translateError(path, err)
}

func (t *EmulTarget) WriteFile(path string, data []byte) error {
	if hook, ok := t.writeHook(path); ok {
		return hook(0, data)
	}
	// sysfs attributes must exist before they can be written
	if _, err := os.Stat(t.hostPath(path)); err != nil {
		return t.translateError(path, err)
	}
	return t.translateError(path, os.WriteFile(t.hostPath(path), data, 0600))
}

// ReadAt reads from a regular file standing in for a device node. A read past the end of
// the file fails with EIO, like an MSR the processor does not implement.
func (t *EmulTarget) ReadAt(path string, offset int64, size int) ([]byte, error) {
	if hook, ok := t.readHook(path); ok {
		return hook(offset, size)
	}
	f, err := os.Open(t.hostPath(path)) // #nosec G304
	if err != nil {
		return nil, t.translateError(path, err)
	}
	defer f.Close()
	buf := make([]byte, size)
	_, err = f.ReadAt(buf, offset)
	if errors.Is(err, io.EOF) {
		return nil, &fs.PathError{Op: "pread", Path: path, Err: syscall.EIO}
	}
	if err != nil {
		return nil, t.translateError(path, err)
	}
	return buf, nil
}

func (t *EmulTarget) WriteAt(path string, offset int64, data []byte) error {
	if hook, ok := t.writeHook(path); ok {
		return hook(offset, data)
	}
	f, err := os.OpenFile(t.hostPath(path), os.O_WRONLY, 0) // #nosec G304
	if err != nil {
		return t.translateError(path, err)
	}
	defer f.Close()
	_, err = f.WriteAt(data, offset)
	return t.translateError(path, err)
}

func (t *EmulTarget) ListDirectory(path string) ([]string, error) {
	entries, err := os.ReadDir(t.hostPath(path))
	if err != nil {
		return nil, t.translateError(path, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

func (t *EmulTarget) Exists(path string) (bool, error) {
	_, err := os.Stat(t.hostPath(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, t.translateError(path, err)
}

func (t *EmulTarget) PullFile(srcPath string, dstDir string) error {
	return copyFile(t.hostPath(srcPath), filepath.Join(dstDir, filepath.Base(srcPath)))
}

// RunCommand is not available on recorded data.
func (t *EmulTarget) RunCommand(cmd *exec.Cmd, timeout int, reuseSSHConnection bool) (stdout string, stderr string, exitCode int, err error) {
	err = fmt.Errorf("cannot run %q on emulated target %s", cmd.String(), t.name)
	exitCode = -1
	return
}

// translateError reports errors with the target path rather than the host path.
func (t *EmulTarget) translateError(path string, err error) error {
	if err == nil {
		return nil
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return &fs.PathError{Op: pathErr.Op, Path: path, Err: pathErr.Err}
	}
	return err
}
