// Package config loads maestro's service configuration. Default() gives the
// baseline, Load overlays a JSON, YAML or TOML file, FromEnv overlays
// MAESTRO_* variables, and command-line flags are applied last by the
// server command.
//
// Example:
//
//	cfg, err := config.Load("/etc/maestro/maestro.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
package config
