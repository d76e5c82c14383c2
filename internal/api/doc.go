// Package api implements the Historical Fetcher: REST backfill for the
// stream consumers.
//
// Every endpoint answers with an envelope:
//
//	{"success": true, "data": ..., "error": ""}
//
// FetchWithRetry retries transport failures, 5xx/429 responses and
// "success":false envelopes from one shared attempt budget. Resource
// functions (Candles, Trades, Metadata, Holders, Traders, TrackerEvents,
// Pings) decode the data field into model types.
package api
