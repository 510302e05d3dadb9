// Package mmio maps PCI BAR windows into the process.
//
// A Region is a bounds-checked view of device registers. OpenResource maps a
// sysfs resource file (/sys/bus/pci/devices/<bdf>/resourceN) with mmap so
// register accesses reach the hardware. NewMemory returns a region backed by
// ordinary memory, used when no hardware is present and in tests.
//
// Registers are 32 bits wide, little-endian and 4-byte aligned.
package mmio
