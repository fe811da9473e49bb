// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package llm provides the provider factory and the fixed provider
// credential table used when building subprocess environments.
package llm

import (
	"fmt"
	"os"

	"github.com/teradata-labs/warp/pkg/types"
)

// CredentialVars names the environment variables a provider needs.
type CredentialVars struct {
	// Primary is the variable holding the API key; resolution fails when it
	// is unset
	Primary string

	// Passthrough lists optional variables forwarded when present
	// (endpoint overrides, regions)
	Passthrough []string
}

// credentialTable is the fixed provider -> credential variable mapping.
// Subprocess environments forward exactly these variables and nothing else.
var credentialTable = map[string]CredentialVars{
	"anthropic": {
		Primary:     "ANTHROPIC_API_KEY",
		Passthrough: []string{"ANTHROPIC_BASE_URL"},
	},
	"openai": {
		Primary:     "OPENAI_API_KEY",
		Passthrough: []string{"OPENAI_BASE_URL", "OPENAI_ORG_ID"},
	},
	"google": {
		Primary: "GEMINI_API_KEY",
	},
}

// Credentials returns the credential variables for a provider.
func Credentials(provider string) (CredentialVars, error) {
	vars, ok := credentialTable[provider]
	if !ok {
		return CredentialVars{}, fmt.Errorf("unknown provider %q", provider)
	}
	return vars, nil
}

// ResolveKey reads the provider's primary credential from the environment.
func ResolveKey(provider string) (string, error) {
	vars, err := Credentials(provider)
	if err != nil {
		return "", err
	}
	key := os.Getenv(vars.Primary)
	if key == "" {
		return "", fmt.Errorf("provider %s: %s is not set", provider, vars.Primary)
	}
	return key, nil
}

// KeyResolver resolves a provider name to an API key. The default resolver
// reads the environment; tests substitute their own.
type KeyResolver func(provider string) (string, error)

// Factory builds an LLMProvider for a provider/model pair.
type Factory func(provider, model, apiKey string) (types.LLMProvider, error)

var factories = map[string]Factory{}

// RegisterFactory registers a provider factory by name. Called from provider
// package init functions.
func RegisterFactory(name string, f Factory) {
	factories[name] = f
}

// NewProvider constructs a provider using the registered factory and the
// environment credential.
func NewProvider(provider, model string) (types.LLMProvider, error) {
	return NewProviderWith(ResolveKey, provider, model)
}

// NewProviderWith is NewProvider with an explicit key resolver.
func NewProviderWith(resolve KeyResolver, provider, model string) (types.LLMProvider, error) {
	f, ok := factories[provider]
	if !ok {
		return nil, fmt.Errorf("no factory registered for provider %q", provider)
	}
	if resolve == nil {
		resolve = ResolveKey
	}
	key, err := resolve(provider)
	if err != nil {
		return nil, err
	}
	return f(provider, model, key)
}
