package position

import "time"

// Snapshot 为持仓的只读导出视图。
type Snapshot struct {
	Symbol         string    `json:"symbol"`
	Side           Side      `json:"side"`
	EntryPrice     float64   `json:"entry_price"`
	Amount         float64   `json:"amount"`
	Leverage       int       `json:"leverage"`
	StopLoss       float64   `json:"stop_loss"`
	TakeProfit     float64   `json:"take_profit"`
	OpenedAt       time.Time `json:"opened_at"`
	TrailingActive bool      `json:"trailing_active"`
	MaxFavorable   float64   `json:"max_favorable_excursion"`
	MaxAdverse     float64   `json:"max_adverse_excursion"`
	PartialExits   []string  `json:"partial_exits"`
}
