// Package platform provides an in-process bus on which bus-controller
// objects are registered and unregistered.
//
// A registered Device claims one or more address resources. The bus keeps
// memory resources exclusive: two live devices can never claim overlapping
// ranges, mirroring how a kernel resource tree rejects conflicting requests.
//
// Usage:
//
//	bus := platform.NewBus()
//	dev, err := bus.Register(platform.Spec{
//	    Name:      "xilinx_spi",
//	    ID:        1,
//	    Resources: []platform.Resource{{Start: 0x1140, End: 0x117f, Flags: platform.ResourceMem}},
//	    Parent:    "0000:03:00.0",
//	})
//	if err != nil {
//	    return err
//	}
//	defer bus.Unregister(dev)
//
// Thread Safety:
//
// All Bus methods are safe for concurrent use.
package platform
