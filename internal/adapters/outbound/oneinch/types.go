package oneinch

type swapResponse struct {
	DstAmount string `json:"dstAmount"`
	Tx        swapTx `json:"tx"`
}

type swapTx struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
	Gas   int64  `json:"gas"`
}

type apiError struct {
	Error       string `json:"error"`
	Description string `json:"description"`
	StatusCode  int    `json:"statusCode"`
}
