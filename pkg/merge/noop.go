// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package merge

import (
	"context"

	"github.com/teradata-labs/warp/pkg/types"
)

// noopStrategy passes findings through untouched. It still walks every phase
// so the engine's snapshot trail stays uniform across strategies.
type noopStrategy struct{}

func (s *noopStrategy) Name() string { return "noop" }

func (s *noopStrategy) Execute(ctx context.Context, findings []types.Finding, opts Options) (*types.MergeOutput, error) {
	for _, phase := range Phases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		opts.progress(phase)
	}
	return &types.MergeOutput{Findings: findings}, nil
}
