package models

import "time"

type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
)

// ConnectionEvent is pushed on a MarketData state channel.
type ConnectionEvent struct {
	State ConnectionState
	At    time.Time
	Err   error
}
