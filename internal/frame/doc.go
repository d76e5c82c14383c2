// Package frame decodes inbound stream frames into a tagged variant and
// decides whether a frame carries data for a given channel.
//
// Wire format (JSON):
//
//	{"channel": "transactions:<mint>", "success": true}           // ack
//	{"channel": "ping", "success": true}                          // heartbeat
//	{"channel": "transactions:<mint>", "data": {...}}             // data
//
// Control messages sent by the client use the "action" field:
//
//	{"action": "subscribe", "channel": "holders:<mint>", "params": {...}}
package frame
