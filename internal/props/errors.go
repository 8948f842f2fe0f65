package props

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"errors"
	"fmt"
	"strings"

	"powerconf/internal/aggregate"
	"powerconf/internal/topology"
)

// ScopeInconsistency is the warning reported when the I/O scope units of one functional unit
// disagree on a value.
type ScopeInconsistency = aggregate.ScopeInconsistency

// UnsupportedMechanismError reports a mechanism the property does not have, or mechanisms the
// platform does not provide.
type UnsupportedMechanismError struct {
	Property   string
	Mechanisms []Mechanism
	Reason     string
}

func (e *UnsupportedMechanismError) Error() string {
	msg := fmt.Sprintf("property %s is not available through %s", e.Property, JoinMechanisms(e.Mechanisms))
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// RegisterLockedError reports a write refused because the register is locked.
type RegisterLockedError struct {
	Property string
	Register string
	CPU      int
}

func (e *RegisterLockedError) Error() string {
	return fmt.Sprintf("cannot change %s: %s is locked on CPU %d (the lock is cleared only by a reset)", e.Property, e.Register, e.CPU)
}

// IsRegisterLocked reports whether err is or wraps a RegisterLockedError.
func IsRegisterLocked(err error) bool {
	var locked *RegisterLockedError
	return errors.As(err, &locked)
}

// Unavailable is the value of a unit none of the mechanisms could provide.
type Unavailable struct{}

func (Unavailable) String() string {
	return "not supported"
}

// IsUnavailable reports whether v is the Unavailable value.
func IsUnavailable(v any) bool {
	_, ok := v.(Unavailable)
	return ok
}

// UnitError is the failure of one unit of a request.
type UnitError struct {
	Unit  topology.Unit
	Scope topology.Level
	Err   error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("%s: %v", describeUnit(e.Scope, e.Unit), e.Err)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

// PartialError is returned when a request was aborted, typically by a context deadline,
// before every unit was handled.
type PartialError struct {
	Property    string
	Unattempted []topology.Unit
	Scope       topology.Level
	Err         error
}

func (e *PartialError) Error() string {
	units := make([]string, len(e.Unattempted))
	for i, u := range e.Unattempted {
		units[i] = describeUnit(e.Scope, u)
	}
	return fmt.Sprintf("%s: aborted with %d unit(s) not attempted (%s): %v", e.Property, len(units), strings.Join(units, ", "), e.Err)
}

func (e *PartialError) Unwrap() error {
	return e.Err
}

func describeUnit(scope topology.Level, u topology.Unit) string {
	switch scope {
	case topology.LevelGlobal:
		return "system"
	case topology.LevelDie:
		return fmt.Sprintf("package %d die %d", u.Package, u.ID)
	case topology.LevelPackage:
		return fmt.Sprintf("package %d", u.ID)
	case topology.LevelCore:
		return fmt.Sprintf("package %d core %d", u.Package, u.ID)
	case topology.LevelModule:
		return fmt.Sprintf("module %d", u.ID)
	}
	return fmt.Sprintf("CPU %d", u.ID)
}
