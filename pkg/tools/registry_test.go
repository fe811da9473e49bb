// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string) Tool {
	return &Func{
		ToolName:        name,
		ToolDescription: "echoes its input",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text": map[string]interface{}{"type": "string"},
			},
			"required": []interface{}{"text"},
		},
		Fn: func(ctx context.Context, callID string, params map[string]interface{}, onUpdate UpdateFunc) (*Result, error) {
			text, _ := params["text"].(string)
			return TextResult(text), nil
		},
	}
}

func TestRegistrySelect(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool("beta"))
	r.Register(echoTool("alpha"))
	r.Register(echoTool("gamma"))

	assert.Equal(t, []string{"alpha", "beta", "gamma"}, r.List())

	selected := r.Select([]string{"gamma", "alpha", "missing"})
	require.Len(t, selected, 2)
	assert.Equal(t, "gamma", selected[0].Name())
	assert.Equal(t, "alpha", selected[1].Name())

	all := r.Select(nil)
	require.Len(t, all, 3)
	assert.Equal(t, "alpha", all[0].Name())
}

func TestValidateParams(t *testing.T) {
	tool := echoTool("echo")

	err := ValidateParams(tool, map[string]interface{}{"text": "hi"})
	assert.NoError(t, err)

	err = ValidateParams(tool, map[string]interface{}{})
	assert.Error(t, err)

	err = ValidateParams(tool, map[string]interface{}{"text": 42})
	assert.Error(t, err)
}

func TestValidateParamsNoSchema(t *testing.T) {
	tool := &Func{ToolName: "wild", Fn: func(ctx context.Context, callID string, params map[string]interface{}, onUpdate UpdateFunc) (*Result, error) {
		return TextResult("ok"), nil
	}}
	assert.NoError(t, ValidateParams(tool, map[string]interface{}{"anything": true}))
}

func TestResultText(t *testing.T) {
	r := &Result{Content: []ContentItem{
		{Type: "text", Text: "one "},
		{Type: "image"},
		{Type: "text", Text: "two"},
	}}
	assert.Equal(t, "one two", r.Text())
	assert.True(t, ErrorResult("nope").IsError)
}
