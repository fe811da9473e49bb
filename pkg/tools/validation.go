// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package tools

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateParams validates tool parameters against the tool's input schema.
// Tools without a schema accept anything.
func ValidateParams(tool Tool, params map[string]interface{}) error {
	schema := tool.InputSchema()
	if len(schema) == 0 {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	paramsLoader := gojsonschema.NewGoLoader(params)

	result, err := gojsonschema.Validate(schemaLoader, paramsLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed for tool %s: %w", tool.Name(), err)
	}
	if !result.Valid() {
		issues := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			issues[i] = e.String()
		}
		return fmt.Errorf("invalid parameters for tool %s: %v", tool.Name(), issues)
	}
	return nil
}
