package domain

import "time"

// StockEventType classifies stock level changes broadcast to subscribers.
type StockEventType string

const (
	StockEventReserved  StockEventType = "reserved"
	StockEventCommitted StockEventType = "committed"
	StockEventReleased  StockEventType = "released"
	StockEventSoldOut   StockEventType = "sold_out"
)

// StockEvent describes one observed stock mutation on an (item, size) pair.
type StockEvent struct {
	Type      StockEventType `json:"type"`
	ItemID    string         `json:"item_id"`
	Size      string         `json:"size"`
	Quantity  int            `json:"quantity"`
	Remaining int            `json:"remaining"`
	At        time.Time      `json:"at"`
}
