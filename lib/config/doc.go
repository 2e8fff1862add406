// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for overhang binaries.
//
// Configuration is loaded from a single file specified by either the
// OVERHANG_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search.
//
// Files ending in .jsonc are JSON with comments and trailing commas;
// they are stripped to plain JSON and decoded with the YAML decoder,
// so both formats share the same field names. Everything else is YAML.
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Production defaults to zstd storage
// compression and info-level logging.
//
// Variable expansion is performed on storage.directory after loading:
// ${HOME}, ${OVERHANG_ROOT}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values.
//
// This package depends on no other overhang packages.
package config
