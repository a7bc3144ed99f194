// Package influxdb writes fleet history to InfluxDB v2.
//
// Two measurements are recorded: action_outcomes, one point per action that
// reaches COMPLETED or FAILED, and device_status, one point per availability
// change. InfluxDB is optional; Connect returns ErrDisabled when it is turned
// off and the daemon runs without history.
package influxdb
