// Package defaults provides embedded default assets (config and prompt templates).
package defaults

import _ "embed"

//go:embed default_config.toml
var DefaultConfigTOML []byte

//go:embed generate.tmpl
var GeneratePrompt string

//go:embed retry.tmpl
var RetryPrompt string
