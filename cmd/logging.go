package cmd

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"log/syslog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"powerconf/internal/app"
)

// configureLogging installs the default slog logger. Logs go to syslog, to stdout as JSON, or
// to <app>.log in the current directory. The log file, if any, is returned for closing.
func configureLogging(debug, toSyslog, toStdout bool) (*os.File, error) {
	logOpts := slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		logOpts.Level = slog.LevelDebug
		logOpts.AddSource = true
	}
	switch {
	case toSyslog && toStdout:
		return nil, errors.New("both syslog handler and stdout output specified, please pick one only")
	case toSyslog:
		handler, err := NewSyslogHandler(&logOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to create syslog handler: %w", err)
		}
		slog.SetDefault(slog.New(handler))
		return nil, nil
	case toStdout:
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &logOpts)))
		return nil, nil
	}
	logFile, err := os.OpenFile(app.Name+".log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644) // #nosec G302
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logFile, &logOpts)))
	return logFile, nil
}

// SyslogHandler is a slog.Handler that logs to syslog in logfmt style.
type SyslogHandler struct {
	writer    *syslog.Writer
	level     slog.Leveler
	addSource bool
	// prefix holds the attributes added with WithAttrs, already formatted
	prefix string
	group  string
}

func NewSyslogHandler(logOpts *slog.HandlerOptions) (*SyslogHandler, error) {
	writer, err := syslog.New(syslog.LOG_INFO|syslog.LOG_USER, app.Name)
	if err != nil {
		return nil, err
	}
	return &SyslogHandler{writer: writer, level: logOpts.Level, addSource: logOpts.AddSource}, nil
}

func (h *SyslogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *SyslogHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "level=%s", r.Level)
	if h.addSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		fmt.Fprintf(&sb, " source=%s:%d", sourcePath(frame.File), frame.Line)
	}
	fmt.Fprintf(&sb, " msg=%q", r.Message)
	sb.WriteString(h.prefix)
	r.Attrs(func(attr slog.Attr) bool {
		writeAttr(&sb, h.group, attr)
		return true
	})
	msg := sb.String()
	switch {
	case r.Level >= slog.LevelError:
		return h.writer.Err(msg)
	case r.Level >= slog.LevelWarn:
		return h.writer.Warning(msg)
	case r.Level >= slog.LevelInfo:
		return h.writer.Info(msg)
	default:
		return h.writer.Debug(msg)
	}
}

func (h *SyslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var sb strings.Builder
	for _, attr := range attrs {
		writeAttr(&sb, h.group, attr)
	}
	clone := *h
	clone.prefix += sb.String()
	return &clone
}

func (h *SyslogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.group = qualify(h.group, name)
	return &clone
}

func writeAttr(sb *strings.Builder, group string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	if attr.Value.Kind() == slog.KindGroup {
		for _, a := range attr.Value.Group() {
			writeAttr(sb, qualify(group, attr.Key), a)
		}
		return
	}
	fmt.Fprintf(sb, " %s=%q", qualify(group, attr.Key), attr.Value.String())
}

func qualify(group, key string) string {
	if group == "" {
		return key
	}
	return group + "." + key
}

// sourcePath shortens an absolute source path to be relative to the parent of the working
// directory.
func sourcePath(file string) string {
	if !filepath.IsAbs(file) {
		return file
	}
	wd, err := os.Getwd()
	if err != nil {
		return file
	}
	rel, err := filepath.Rel(filepath.Dir(wd), file)
	if err != nil {
		return file
	}
	return rel
}
