// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package finding extracts structured findings from agent transcripts.
// The Finding types live in github.com/teradata-labs/warp/pkg/types to break
// import cycles; this package re-exports them for convenience.
package finding

import (
	"github.com/teradata-labs/warp/pkg/types"
)

// Type aliases for the shared finding types.
type Finding = types.Finding
type FindingCluster = types.FindingCluster
type Severity = types.Severity
type Category = types.Category
type LineRange = types.LineRange
