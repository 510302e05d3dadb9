// Package spi virtualizes up to eight SPI bus controllers on top of the BAR
// window of one FPGA attached over PCI.
//
// The package is a protocol plugin for the multifpgapci framework. For every
// attached device it keeps a Record holding the BAR geometry, a staged
// PendingConfig and a SlotTable of eight controller slots, and exposes a
// control-plane directory:
//
//	<bdf>/spi/
//	    virt_spi_controllers       rw  controller count hint
//	    virt_spi_controller_size   rw  per-controller window stride
//	    spi_base_addr              rw  offset from BAR start to controller 1
//	    spi_num_cs                 rw  chip-select count of the new bus
//	    spi_cs                     rw  chip-select of the attached device
//	    spi_driver                 rw  bus-controller driver name
//	    spi_dev_driver             rw  attached device modalias
//	    new_spi_controller         w   create controller N (1..8)
//	    del_spi_controller         w   delete controller N (1..8)
//	    spi_controllers            r   occupied slots
//
// Controller N occupies the window
//
//	start = BAR start + spi_base_addr + (N-1)*virt_spi_controller_size
//	end   = start + virt_spi_controller_size - 1
//
// which is fixed when the controller is created and survives BAR unmapping.
//
// Error Handling:
//
// Failures are returned synchronously, logged at error level and never
// retried. Errno converts them to the errno a control-plane write reports.
//
// Thread Safety:
//
// Each Record has its own mutex serializing BAR updates, slot changes and
// detach. The registry map has a separate RWMutex. Observers are notified
// after locks are released.
package spi
