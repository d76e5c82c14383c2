package frame

// IsRelevant reports whether f is a genuine data frame for expected.
//
// Heartbeats, subscription acknowledgements and frames for other channels
// sharing the transport are all rejected. The check reads the raw fields
// rather than Kind only, so frames built by hand are classified the same way
// as decoded ones.
func IsRelevant(expected string, f Frame) bool {
	if f.Kind == KindPing || f.Channel == PingChannel {
		return false
	}
	if f.Channel != expected {
		return false
	}
	if f.Kind == KindAck || isTrue(f.Success) {
		return false
	}
	return true
}
