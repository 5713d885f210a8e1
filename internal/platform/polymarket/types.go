package polymarket

import (
	"strconv"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// apiOrderResult is the CLOB API response to an order placement.
type apiOrderResult struct {
	Success            bool     `json:"success"`
	ErrorMsg           string   `json:"errorMsg"`
	OrderID            string   `json:"orderID"`
	Status             string   `json:"status"`
	MakingAmount       string   `json:"makingAmount"`
	TakingAmount       string   `json:"takingAmount"`
	TransactionsHashes []string `json:"transactionsHashes"`
}

// toOrderResult converts the API response into the domain result. The filled
// USD notional comes from the matched USDC amount (6-decimal fixed point).
func (r apiOrderResult) toOrderResult(side domain.Side) domain.OrderResult {
	res := domain.OrderResult{
		Success: r.Success,
		OrderID: r.OrderID,
		Message: r.ErrorMsg,
	}

	// For buys the making amount is USDC; for sells the taking amount is.
	usdcStr := r.MakingAmount
	if side == domain.SideSell {
		usdcStr = r.TakingAmount
	}
	if usdc, err := strconv.ParseFloat(usdcStr, 64); err == nil && usdc > 0 {
		res.FilledSizeUSD = usdc / usdcScale
	}
	return res
}

// dataAPIPosition is one position row from the public data API.
type dataAPIPosition struct {
	ConditionID  string  `json:"conditionId"`
	Asset        string  `json:"asset"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	CurrentValue float64 `json:"currentValue"`
	InitialValue float64 `json:"initialValue"`
	PercentPnl   float64 `json:"percentPnl"`
	Title        string  `json:"title"`
}

// Position is an open outcome-token position on a Polymarket account.
type Position struct {
	Market       string
	AssetID      string
	Shares       float64
	AvgPrice     float64
	CurrentValue float64
	InitialValue float64
	PercentPnL   float64
	Title        string
}

func (p dataAPIPosition) toPosition() Position {
	return Position{
		Market:       p.ConditionID,
		AssetID:      p.Asset,
		Shares:       p.Size,
		AvgPrice:     p.AvgPrice,
		CurrentValue: p.CurrentValue,
		InitialValue: p.InitialValue,
		PercentPnL:   p.PercentPnl,
		Title:        p.Title,
	}
}
