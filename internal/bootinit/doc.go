// Package bootinit runs the host preparation steps that precede the
// multi-FPGA framework.
//
// The sequence is:
//  1. Write a modprobe blacklist for drivers that would claim the FPGA I2C
//     controllers.
//  2. Write a JSON description of the configured FPGA devices for board
//     tooling.
//  3. Run the board ASIC-init executable under a timeout.
//
// No step can fail the boot. Each failure is logged and recorded in the
// Report, and the next step still runs.
package bootinit
