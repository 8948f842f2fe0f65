package tpmi

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"

	"powerconf/internal/cpus"
)

// EnvDataPath is the environment variable holding colon-separated TPMI spec directories that
// take precedence over the built-in specs.
const EnvDataPath = "POWERCONF_TPMI_DATA_PATH"

const (
	indexFileName     = "index.yml"
	indexVersion      = "1.0"
	maxSpecFiles      = 256
	maxNonYAMLFiles   = 32
	maxSpecLoadErrors = 4
)

//go:embed data
var builtinData embed.FS

// BuiltinName is the name under which the built-in spec directory is reported.
const BuiltinName = "<built-in>"

// Notice tells the caller that the specs of a different platform than requested were used.
// It must be shown to the user.
type Notice struct {
	Requested cpus.VFM
	Used      cpus.VFM
	Platform  string
	Index     string
}

func (n *Notice) String() string {
	if n.Requested == 0 {
		return fmt.Sprintf("no platform specified, assuming %s (VFM %s) TPMI specs from %s", n.Platform, n.Used, n.Index)
	}
	return fmt.Sprintf("no TPMI specs for VFM %s in %s, using %s (VFM %s) specs", n.Requested, n.Index, n.Platform, n.Used)
}

type specDir struct {
	name string
	fsys fs.FS
}

type loadedSet struct {
	set    *FeatureSet
	notice *Notice
}

// SpecCache loads TPMI spec files once per platform and hands out the resulting read-only
// feature sets.
type SpecCache struct {
	dirs   []specDir
	mu     sync.Mutex
	loaded map[cpus.VFM]loadedSet
}

// SearchPath returns the spec directories named by EnvDataPath, in order.
func SearchPath() []string {
	var dirs []string
	for dir := range strings.SplitSeq(os.Getenv(EnvDataPath), ":") {
		if dir = strings.TrimSpace(dir); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// NewSpecCache creates a cache that searches dirs, in order, then the built-in specs.
func NewSpecCache(dirs []string) *SpecCache {
	c := &SpecCache{loaded: make(map[cpus.VFM]loadedSet)}
	for _, dir := range dirs {
		c.dirs = append(c.dirs, specDir{name: dir, fsys: os.DirFS(dir)})
	}
	sub, err := fs.Sub(builtinData, "data")
	if err != nil {
		panic(err) // embedded layout is fixed at build time
	}
	c.dirs = append(c.dirs, specDir{name: BuiltinName, fsys: sub})
	return c
}

// Dirs returns the names of the searched directories.
func (c *SpecCache) Dirs() []string {
	names := make([]string, len(c.dirs))
	for i, dir := range c.dirs {
		names[i] = dir.name
	}
	return names
}

// Load returns the feature set for vfm. When no spec directory knows vfm, or vfm is zero, the
// first (newest) platform of the index is used and a Notice is returned.
func (c *SpecCache) Load(vfm cpus.VFM) (*FeatureSet, *Notice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.loaded[vfm]; ok {
		return l.set, l.notice, nil
	}
	var set *FeatureSet
	var notice *Notice
	for _, dir := range c.dirs {
		if _, err := fs.Stat(dir.fsys, indexFileName); err != nil {
			slog.Debug("skipping TPMI spec directory without index", slog.String("dir", dir.name))
			continue
		}
		entry, usedVFM, matched, err := parseIndex(dir, vfm)
		if err != nil {
			slog.Warn("failed to parse TPMI spec index", slog.String("dir", dir.name), slog.String("error", err.Error()))
			continue
		}
		if set == nil {
			set = newFeatureSet(usedVFM, entry.PlatformName)
		}
		if !matched && notice == nil {
			notice = &Notice{Requested: vfm, Used: usedVFM, Platform: entry.PlatformName, Index: path.Join(dir.name, indexFileName)}
		}
		if err := loadSpecDir(dir, entry.Subdir, set); err != nil {
			return nil, nil, err
		}
	}
	if set == nil || len(set.features) == 0 {
		return nil, nil, fmt.Errorf("no TPMI spec files found, searched: %s", strings.Join(c.Dirs(), ", "))
	}
	c.loaded[vfm] = loadedSet{set: set, notice: notice}
	return set, notice, nil
}

type indexEntry struct {
	Subdir       string `yaml:"subdir"`
	PlatformName string `yaml:"platform_name"`
}

type indexFile struct {
	Version string        `yaml:"version"`
	VFMs    yaml.MapSlice `yaml:"vfms"`
}

// parseIndex returns the index entry for vfm, or the first entry when vfm is not listed.
func parseIndex(dir specDir, vfm cpus.VFM) (entry indexEntry, used cpus.VFM, matched bool, err error) {
	data, err := fs.ReadFile(dir.fsys, indexFileName)
	if err != nil {
		return
	}
	var index indexFile
	if err = yaml.Unmarshal(data, &index); err != nil {
		return
	}
	if index.Version != indexVersion {
		err = fmt.Errorf("unsupported index format version %q, only %q is supported", index.Version, indexVersion)
		return
	}
	if len(index.VFMs) == 0 {
		err = errors.New("index lists no platforms")
		return
	}
	for i, item := range index.VFMs {
		var itemVFM uint64
		itemVFM, err = strconv.ParseUint(fmt.Sprint(item.Key), 0, 32)
		if err != nil {
			err = fmt.Errorf("bad VFM %v: %w", item.Key, err)
			return
		}
		var e indexEntry
		if e, err = decodeIndexEntry(item.Value); err != nil {
			err = fmt.Errorf("bad definition of VFM %v: %w", item.Key, err)
			return
		}
		if i == 0 {
			entry, used = e, cpus.VFM(itemVFM)
		}
		if cpus.VFM(itemVFM) == vfm {
			return e, vfm, true, nil
		}
	}
	return entry, used, false, nil
}

func decodeIndexEntry(value any) (indexEntry, error) {
	var e indexEntry
	data, err := yaml.Marshal(value)
	if err != nil {
		return e, err
	}
	if err := yaml.UnmarshalStrict(data, &e); err != nil {
		return e, err
	}
	if e.Subdir == "" || e.PlatformName == "" {
		return e, errors.New("both 'subdir' and 'platform_name' are required")
	}
	return e, nil
}

// loadSpecDir adds the features found in subdir of dir to set. Features already in set were
// provided by a directory earlier in the search path and are kept.
func loadSpecDir(dir specDir, subdir string, set *FeatureSet) error {
	entries, err := fs.ReadDir(dir.fsys, subdir)
	if err != nil {
		slog.Warn("failed to access TPMI spec files directory", slog.String("dir", path.Join(dir.name, subdir)), slog.String("error", err.Error()))
		return nil
	}
	var specFiles, nonYAML, loadErrors int
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(name, ".yml") && !strings.HasSuffix(name, ".yaml") {
			nonYAML++
			if nonYAML > maxNonYAMLFiles {
				return fmt.Errorf("too many non-YAML files in %s, maximum allowed count is %d", path.Join(dir.name, subdir), maxNonYAMLFiles)
			}
			continue
		}
		specPath := path.Join(subdir, name)
		data, err := fs.ReadFile(dir.fsys, specPath)
		var feature *Feature
		if err == nil {
			feature, err = parseFeature(path.Join(dir.name, specPath), data)
		}
		if err != nil {
			loadErrors++
			if loadErrors > maxSpecLoadErrors {
				return fmt.Errorf("%w: reached the maximum spec file load errors count of %d", err, maxSpecLoadErrors)
			}
			slog.Warn("failed to load TPMI spec file", slog.String("error", err.Error()))
			continue
		}
		if !set.add(feature) {
			slog.Debug("TPMI feature spec already loaded, skipping", slog.String("feature", feature.Name), slog.String("path", feature.Path))
			continue
		}
		specFiles++
		if specFiles > maxSpecFiles {
			return fmt.Errorf("too many spec files in %s, maximum allowed count is %d", path.Join(dir.name, subdir), maxSpecFiles)
		}
	}
	return nil
}
