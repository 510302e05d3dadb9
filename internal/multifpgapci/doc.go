// Package multifpgapci hosts protocol plugins on top of FPGA devices
// attached over PCI.
//
// The Framework owns the set of present devices and the set of registered
// protocols. For each device it creates a control-plane directory named
// after the PCI address, attaches every protocol, then maps BAR 0 and hands
// the mapping to each protocol. Removal runs the same steps in reverse.
//
// Lifecycle per device and protocol:
//
//	AddDevice ─► Attach ─► MapBAR ─► ... ─► UnmapBAR ─► Detach ◄─ RemoveDevice
//
// Protocols implement ProtocolOps and are registered by name:
//
//	fw := multifpgapci.New(ctlfs.NewRoot("multifpgapci"))
//	if err := fw.RegisterProtocol(spiPlugin); err != nil {
//	    return err
//	}
//	if err := fw.AddDevice(&multifpgapci.Device{ID: id, BARLen: 0x10000}); err != nil {
//	    return err
//	}
//	defer fw.Shutdown(ctx)
//
// Thread Safety:
//
// All Framework methods are safe for concurrent use. Protocol callbacks for
// one device are never invoked concurrently with each other.
package multifpgapci
