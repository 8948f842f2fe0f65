// Package sysfs reads and writes sysfs attributes on a target.
package sysfs

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"powerconf/internal/backend"
	"powerconf/internal/target"
)

// Sysfs accesses sysfs attributes through a target. Read values are cached per path until the
// path is written or the cache is flushed.
type Sysfs struct {
	target target.Target
	mu     sync.Mutex
	cache  map[string]string
}

// New creates a sysfs backend for t.
func New(t target.Target) *Sysfs {
	return &Sysfs{
		target: t,
		cache:  make(map[string]string),
	}
}

func (s *Sysfs) read(path string) (string, error) {
	data, err := s.target.ReadFile(path)
	if err != nil {
		if backend.Unsupported(err) {
			return "", errors.Wrapf(backend.ErrNotSupported, "%s on %s", path, s.target.GetName())
		}
		return "", errors.Wrapf(err, "failed to read %s", path)
	}
	return strings.TrimSpace(string(data)), nil
}

// Read returns the contents of the attribute at path with surrounding white space removed.
// A missing attribute yields an error wrapping backend.ErrNotSupported.
func (s *Sysfs) Read(path string) (string, error) {
	s.mu.Lock()
	value, ok := s.cache[path]
	s.mu.Unlock()
	if ok {
		return value, nil
	}
	value, err := s.read(path)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.cache[path] = value
	s.mu.Unlock()
	return value, nil
}

// ReadFresh reads the attribute bypassing the cache, for values the hardware changes on its
// own such as current frequencies.
func (s *Sysfs) ReadFresh(path string) (string, error) {
	return s.read(path)
}

// ReadInt reads the attribute and parses it as a decimal integer.
func (s *Sysfs) ReadInt(path string) (int64, error) {
	value, err := s.Read(path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "bad integer %q in %s", value, path)
	}
	return n, nil
}

// Write writes value to the attribute at path and updates the cache.
func (s *Sysfs) Write(path string, value string) error {
	slog.Debug("writing sysfs attribute", slog.String("path", path), slog.String("value", value))
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.target.WriteFile(path, []byte(value)); err != nil {
		delete(s.cache, path)
		if errors.Is(err, fs.ErrNotExist) {
			return errors.Wrapf(backend.ErrNotSupported, "%s on %s", path, s.target.GetName())
		}
		return errors.Wrapf(err, "failed to write %q to %s", value, path)
	}
	s.cache[path] = value
	return nil
}

// ReadBinary reads size bytes from the start of a binary file such as a character device.
// The value is not cached.
func (s *Sysfs) ReadBinary(path string, size int) ([]byte, error) {
	data, err := s.target.ReadAt(path, 0, size)
	if err != nil {
		if backend.Unsupported(err) {
			return nil, errors.Wrapf(backend.ErrNotSupported, "%s on %s", path, s.target.GetName())
		}
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	if len(data) != size {
		return nil, errors.Errorf("short read from %s: %d bytes instead of %d", path, len(data), size)
	}
	return data, nil
}

// WriteInt writes a decimal integer to the attribute at path.
func (s *Sysfs) WriteInt(path string, value int64) error {
	return s.Write(path, strconv.FormatInt(value, 10))
}

// Exists reports whether the attribute or directory at path exists.
func (s *Sysfs) Exists(path string) bool {
	exists, err := s.target.Exists(path)
	return err == nil && exists
}

// List returns the entries of the sysfs directory at path.
func (s *Sysfs) List(path string) ([]string, error) {
	names, err := s.target.ListDirectory(path)
	if err != nil {
		if backend.Unsupported(err) {
			return nil, errors.Wrapf(backend.ErrNotSupported, "%s on %s", path, s.target.GetName())
		}
		return nil, errors.Wrapf(err, "failed to list %s", path)
	}
	return names, nil
}

// Flush drops all cached values.
func (s *Sysfs) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.cache)
}
