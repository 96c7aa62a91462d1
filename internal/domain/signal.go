package domain

import "strings"

// Signal bus channels relayed to local presentation clients.
const (
	ChannelPrices = "ch:prices"
	ChannelOrder  = "ch:order"
	ChannelStatus = "ch:status"
	ChannelToast  = "ch:toast"

	channelBookPrefix = "ch:book:"

	// ChannelBookAll matches every per-symbol book channel.
	ChannelBookAll = channelBookPrefix + "*"
)

// BookChannel returns the per-symbol order-book channel name.
func BookChannel(symbol string) string {
	return channelBookPrefix + strings.ToUpper(symbol)
}

// Envelope is the JSON shape published on the signal bus.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}
