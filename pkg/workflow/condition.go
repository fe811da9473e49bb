// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// Condition gates a conditional step.
type Condition struct {
	// Type is the value source: context, result, user, always, never
	Type string `json:"type" yaml:"type"`

	// Field names the context key, result field or user choice
	Field string `json:"field,omitempty" yaml:"field,omitempty"`

	// Operator: exists, equals, contains, gt, lt, empty, not_empty
	Operator string `json:"operator,omitempty" yaml:"operator,omitempty"`

	// Value is the comparison operand
	Value interface{} `json:"value,omitempty" yaml:"value,omitempty"`
}

// Context is the shared mutable state a workflow reads and writes.
type Context map[string]interface{}

// evaluate resolves the condition against the workflow context and the
// result of the most recent completed step. A missing field is false for
// exists, true for empty, and false for everything else, never an error.
func (c *Condition) evaluate(wctx Context, prior *StepResult, choices map[string]bool) bool {
	switch c.Type {
	case "always":
		return true
	case "never":
		return false
	case "user":
		return choices[c.Field]
	case "context":
		value, ok := wctx[c.Field]
		return applyOperator(c.Operator, value, ok, c.Value)
	case "result":
		value, ok := resultField(prior, c.Field)
		return applyOperator(c.Operator, value, ok, c.Value)
	}
	return false
}

// resultField reads a field off the prior step's result.
func resultField(prior *StepResult, field string) (interface{}, bool) {
	if prior == nil {
		return nil, false
	}
	switch field {
	case "status":
		return string(prior.Status), true
	case "output":
		return prior.Output, prior.Output != ""
	case "findings":
		return prior.FindingCount, true
	default:
		return nil, false
	}
}

func applyOperator(op string, value interface{}, present bool, operand interface{}) bool {
	switch op {
	case "exists":
		return present
	case "empty":
		return !present || fmt.Sprint(value) == ""
	case "not_empty":
		return present && fmt.Sprint(value) != ""
	case "equals":
		return present && fmt.Sprint(value) == fmt.Sprint(operand)
	case "contains":
		return present && strings.Contains(fmt.Sprint(value), fmt.Sprint(operand))
	case "gt", "lt":
		a, okA := toFloat(value)
		b, okB := toFloat(operand)
		if !present || !okA || !okB {
			return false
		}
		if op == "gt" {
			return a > b
		}
		return a < b
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
