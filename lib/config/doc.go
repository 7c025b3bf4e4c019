// Copyright 2026 The Constitute Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the
// constitute daemon.
//
// Configuration comes from an optional single file specified by the
// CONSTITUTE_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There is no ~/.config discovery and no
// automatic file search; missing configuration means [Default] values,
// and command-line flags layered on top win over file values.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${CONSTITUTE_ROOT}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values.
//
// This package depends on no other constitute packages.
package config
