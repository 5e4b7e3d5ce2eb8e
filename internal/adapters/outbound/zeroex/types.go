package zeroex

// quoteResponse is the subset of the /swap/allowance-holder/quote response the engine uses.
type quoteResponse struct {
	LiquidityAvailable bool        `json:"liquidityAvailable"`
	BuyToken           string      `json:"buyToken"`
	SellToken          string      `json:"sellToken"`
	BuyAmount          string      `json:"buyAmount"`
	MinBuyAmount       string      `json:"minBuyAmount"`
	SellAmount         string      `json:"sellAmount"`
	Transaction        transaction `json:"transaction"`
}

type transaction struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
	Gas   string `json:"gas"`
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}
