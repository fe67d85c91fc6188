package configs

import _ "embed"

// DefaultConfig is the YAML written to the config path on first run.
//
//go:embed ptyhost.yaml
var DefaultConfig []byte
