package target

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// RunCommand executes the given command with a timeout and returns the standard output,
// standard error, exit code, and any error that occurred.
func (t *LocalTarget) RunCommand(cmd *exec.Cmd, timeout int, argNotUsed bool) (stdout string, stderr string, exitCode int, err error) {
	return runLocalCommand(cmd, "", timeout)
}

// GetName returns the name of the Target.
func (t *LocalTarget) GetName() (host string) {
	return t.host
}

// IsSuperUser checks if the current user is a superuser.
func (t *LocalTarget) IsSuperUser() bool {
	return os.Geteuid() == 0
}

func (t *LocalTarget) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path) // #nosec G304
}

// WriteFile writes to an existing file without truncating or creating it, the way sysfs
// attributes expect to be written.
func (t *LocalTarget) WriteFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0) // #nosec G304
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	if err != nil {
		return &fs.PathError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// ReadAt uses pread(2) directly, device files like /dev/cpu/N/msr do not support seeking
// through the buffered os.File API reliably.
func (t *LocalTarget) ReadAt(path string, offset int64, size int) ([]byte, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, size)
	n, err := unix.Pread(int(f.Fd()), buf, offset)
	if err != nil {
		return nil, &fs.PathError{Op: "pread", Path: path, Err: err}
	}
	if n != size {
		return nil, &fs.PathError{Op: "pread", Path: path, Err: unix.EIO}
	}
	return buf, nil
}

func (t *LocalTarget) WriteAt(path string, offset int64, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0) // #nosec G304
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := unix.Pwrite(int(f.Fd()), data, offset)
	if err != nil {
		return &fs.PathError{Op: "pwrite", Path: path, Err: err}
	}
	if n != len(data) {
		return &fs.PathError{Op: "pwrite", Path: path, Err: unix.EIO}
	}
	return nil
}

func (t *LocalTarget) ListDirectory(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

func (t *LocalTarget) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// PullFile copies a file from the source path on the local target to the destination directory.
func (t *LocalTarget) PullFile(srcPath string, dstDir string) error {
	return copyFile(srcPath, filepath.Join(dstDir, filepath.Base(srcPath)))
}

func copyFile(srcPath string, dstPath string) error {
	src, err := os.Open(srcPath) // #nosec G304
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(dstPath) // #nosec G304
	if err != nil {
		return err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return err
}
