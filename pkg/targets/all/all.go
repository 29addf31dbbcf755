// Copyright 2023-2026 The Synapse Authors. SPDX-License-Identifier: Apache-2.0

// Package all registers all the targets, so they can be used with the platform package:
//
//	import _ "github.com/snaplab-dpss/synapse-project-sub003/pkg/targets/all"
package all

import (
	_ "github.com/snaplab-dpss/synapse-project-sub003/pkg/targets/fastpath"
	_ "github.com/snaplab-dpss/synapse-project-sub003/pkg/targets/tofino"
	_ "github.com/snaplab-dpss/synapse-project-sub003/pkg/targets/x86"
)
