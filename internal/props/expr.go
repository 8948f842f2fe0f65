package props

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"math"

	"github.com/casbin/govaluate"
)

// Expression variables.
const (
	varRaw       = "raw"
	varValue     = "value"
	varBusClock  = "bclk"
	varPowerUnit = "power_unit"
)

var exprFunctions = map[string]govaluate.ExpressionFunction{
	"ceil":  roundFunc(math.Ceil),
	"floor": roundFunc(math.Floor),
	"round": roundFunc(math.Round),
}

func roundFunc(f func(float64) float64) govaluate.ExpressionFunction {
	return func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected one argument, got %d", len(args))
		}
		v, ok := toFloat(args[0])
		if !ok {
			return nil, fmt.Errorf("bad argument %v", args[0])
		}
		return f(v), nil
	}
}

func compileExpr(src string) (*govaluate.EvaluableExpression, error) {
	if src == "" {
		return nil, nil
	}
	return govaluate.NewEvaluableExpressionWithFunctions(src, exprFunctions)
}

// evalExpr evaluates a compiled expression to a number. Variables missing from params are
// looked up with resolve.
func evalExpr(e *govaluate.EvaluableExpression, params map[string]any, resolve func(name string) (float64, error)) (float64, error) {
	for _, name := range e.Vars() {
		if _, ok := params[name]; ok {
			continue
		}
		v, err := resolve(name)
		if err != nil {
			return 0, err
		}
		params[name] = v
	}
	result, err := e.Evaluate(params)
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate %q: %w", e.String(), err)
	}
	switch v := result.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%q evaluated to %v", e.String(), v)
		}
		return v, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("%q evaluated to a %T", e.String(), result)
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
