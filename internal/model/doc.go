// Package model defines the records carried by the token market-data stream
// and the REST backfill endpoints.
//
// Conventions:
//   - Timestamps: int64 milliseconds since Unix epoch
//   - Amounts and prices: decimal.Decimal (decoded from JSON strings or numbers)
//   - Identity keys: see the Key methods; a collection never holds two records
//     with the same key
package model
