package model

import "fmt"

// Channel name builders. Every stream consumer owns exactly one channel.

func TransactionsChannel(mint string) string { return "transactions:" + mint }
func HoldersChannel(mint string) string      { return "holders:" + mint }
func TradersChannel(mint string) string      { return "traders:" + mint }
func PriceChannel(mint string) string        { return "price:" + mint }

func CandlesChannel(mint, interval string) string {
	return fmt.Sprintf("candles:%s:%s", mint, interval)
}

func WalletTrackerChannel(group string) string  { return "wallet-tracker:" + group }
func DiscordMonitorChannel(group string) string { return "discord-monitor:" + group }
func TwitterMonitorChannel(group string) string { return "twitter-monitor:" + group }
