// Package config handles loading and validating vspid configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (VSPID_*)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The JWT secret signs control-plane tokens and must be set explicitly
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, dev := range cfg.FPGA.Devices {
//	    fmt.Println(dev.BDF)
//	}
package config
