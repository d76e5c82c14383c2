// Package metrics exposes Prometheus collectors for the stream core.
//
// Series:
//
//	tokenfeed_connection_state{state}            1 for the current state
//	tokenfeed_reconnects_total
//	tokenfeed_frames_received_total{kind}
//	tokenfeed_frames_routed_total
//	tokenfeed_frames_dropped_total{reason}
//	tokenfeed_control_messages_total{action}
//	tokenfeed_fetch_attempts_total{resource,outcome}
//	tokenfeed_consumer_items{channel}
//
// A nil *Metrics is valid and records nothing.
package metrics
