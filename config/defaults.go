package config

import _ "embed"

// Default is the baseline configuration merged under conf.yaml.
//
//go:embed conf.default.yaml
var Default []byte

// Characters is the built-in character catalog.
//
//go:embed characters.yaml
var Characters []byte
