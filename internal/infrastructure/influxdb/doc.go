// Package influxdb writes devicehub event time series to InfluxDB v2.
//
// Two measurements are written:
//   - auth_events: login outcomes, access denials, throttled requests and
//     recovery requests, tagged by event, role and outcome
//   - device_commands: commands dispatched to devices, tagged by command
//     and role
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Asynchronous write failures are delivered to the
// SetOnError callback. A nil *Client accepts writes and drops them, so the
// API can run with InfluxDB disabled.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteAuthEvent("login", "cliente", "failure", "")
package influxdb
