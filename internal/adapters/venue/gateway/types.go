package gateway

import "github.com/shopspring/decimal"

// Wire format of the signing sidecar. Amounts are base-unit decimal strings.

type amounts struct {
	X decimal.Decimal `json:"x"`
	Y decimal.Decimal `json:"y"`
}

type binRange struct {
	MinBinID int `json:"min_bin_id"`
	MaxBinID int `json:"max_bin_id"`
}

type openRequest struct {
	Pool     string   `json:"pool"`
	Amounts  amounts  `json:"amounts"`
	Range    binRange `json:"range"`
	Strategy string   `json:"strategy"`
}

type openResponse struct {
	Handle  string  `json:"position"`
	Amounts amounts `json:"amounts"`
	TxID    string  `json:"tx_id"`
}

type addRequest struct {
	Amounts  amounts  `json:"amounts"`
	Range    binRange `json:"range"`
	Strategy string   `json:"strategy"`
}

type txResponse struct {
	TxID string `json:"tx_id"`
}

type removeRequest struct {
	Range         binRange `json:"range"`
	Bps           int      `json:"bps"`
	ClaimAndClose bool     `json:"claim_and_close"`
}

type removeResponse struct {
	TxIDs []string `json:"tx_ids"`
}

type positionResponse struct {
	Position string  `json:"position"`
	Holdings amounts `json:"holdings"`
	Fees     amounts `json:"fees"`
}

type activeBinResponse struct {
	BinID int    `json:"bin_id"`
	Price string `json:"price"`
}
