// Package influxdb records vspid lifecycle metrics in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Three measurements
// are written:
//
//	spi_controllers  tags: device        fields: occupied, mapped, bar_len
//	spi_events       tags: device, type  fields: controller
//	ctl_writes       tags: source, entry fields: errno, ok
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval; failures surface through SetOnError.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteOccupancy("0000:03:00.0", 3, true, 0x100000)
package influxdb
