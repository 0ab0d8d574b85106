package config

import (
	"gopkg.in/yaml.v3"
)

const redacted = "***"

// Dump renders the effective config (after defaults) as yaml with the API
// credentials masked, for the startup log.
func (c *Config) Dump() string {
	cp := *c
	if cp.Market.APIKey != "" {
		cp.Market.APIKey = redacted
	}
	if cp.Market.APISecret != "" {
		cp.Market.APISecret = redacted
	}
	out, err := yaml.Marshal(&cp)
	if err != nil {
		return ""
	}
	return string(out)
}
