// Package ctlbridge carries control-plane reads and writes from the outer
// surfaces (HTTP, MQTT) into the control-plane namespace.
//
// Writer resolves "<bdf>/<entry path>" against the namespace root, performs
// the write, and reports the outcome as an errno alongside the error. Every
// write is recorded in the audit trail and as a metrics point when those are
// configured.
//
// Bridge subscribes to vspi/ctl/{bdf}/{entry...}/set and answers each
// request on the matching .../result topic:
//
//	vspi/ctl/0000:03:00.0/spi/spi_driver/set          "xilinx_spi"
//	vspi/ctl/0000:03:00.0/spi/new_spi_controller/set  "1"
//	vspi/ctl/0000:03:00.0/spi/new_spi_controller/result
//	    {"ok":true,"errno":0}
package ctlbridge
