package meteora

// dlmmPair es un elemento de GET /pair/all. Los importes llegan como strings.
type dlmmPair struct {
	Address           string `json:"address"`
	Name              string `json:"name"`
	MintX             string `json:"mint_x"`
	MintY             string `json:"mint_y"`
	BinStep           int    `json:"bin_step"`
	BaseFeePercentage string `json:"base_fee_percentage"`
	Liquidity         string `json:"liquidity"`
	Hide              bool   `json:"hide"`
	IsBlacklisted     bool   `json:"is_blacklisted"`
}
