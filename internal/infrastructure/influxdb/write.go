package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementControllers = "spi_controllers"
	MeasurementEvents      = "spi_events"
	MeasurementCtlWrites   = "ctl_writes"
)

// OccupancyPoint describes how many controller slots of a device are
// occupied and whether its BAR is mapped.
func OccupancyPoint(device string, occupied int, mapped bool, barLen uint64, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementControllers,
		map[string]string{"device": device},
		map[string]any{
			"occupied": occupied,
			"mapped":   mapped,
			"bar_len":  barLen,
		},
		ts)
}

// EventPoint records one lifecycle event. controller is the 1-based
// index, 0 for device-level events.
func EventPoint(device, eventType string, controller int, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementEvents,
		map[string]string{"device": device, "type": eventType},
		map[string]any{"controller": controller},
		ts)
}

// CtlWritePoint records the outcome of one control-plane write.
func CtlWritePoint(source, entry string, errno int, ts time.Time) *write.Point {
	return write.NewPoint(MeasurementCtlWrites,
		map[string]string{"source": source, "entry": entry},
		map[string]any{"errno": errno, "ok": errno == 0},
		ts)
}

// WriteOccupancy writes an OccupancyPoint stamped now.
func (c *Client) WriteOccupancy(device string, occupied int, mapped bool, barLen uint64) {
	c.write(OccupancyPoint(device, occupied, mapped, barLen, time.Now()))
}

// WriteEvent writes an EventPoint stamped now.
func (c *Client) WriteEvent(device, eventType string, controller int) {
	c.write(EventPoint(device, eventType, controller, time.Now()))
}

// WriteCtlWrite writes a CtlWritePoint stamped now.
func (c *Client) WriteCtlWrite(source, entry string, errno int) {
	c.write(CtlWritePoint(source, entry, errno, time.Now()))
}

// WritePoint writes a custom point.
//
// Example:
//
//	client.WritePoint("bootinit",
//	    map[string]string{"step": "asic_init"},
//	    map[string]any{"exit_code": 0, "duration_ms": 812})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.write(write.NewPoint(measurement, tags, fields, time.Now()))
}

func (c *Client) write(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}
