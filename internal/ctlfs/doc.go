// Package ctlfs provides the control-plane namespace used to configure
// protocol plugins at runtime.
//
// The namespace is a small hierarchical tree, modelled on sysfs: directories
// contain named attributes, and each attribute has an optional Show function
// (read) and an optional Store function (write). Protocol plugins create a
// directory per attached device and publish their configuration entries
// into it; clients (HTTP API, MQTT bridge) read and write entries by path.
//
// # Usage
//
//	root := ctlfs.NewRoot("multifpgapci")
//	dev, _ := root.Mkdir("0000:03:00.0")
//	_ = dev.AddGroup([]ctlfs.Attr{{Name: "spi_cs", Mode: ctlfs.ModeRW, Show: show, Store: store}})
//	n, err := root.Write("0000:03:00.0/spi_cs", "1\n")
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Show and Store callbacks run without any namespace lock held, so they
//     may call back into the namespace (for example to remove their own
//     directory).
package ctlfs
