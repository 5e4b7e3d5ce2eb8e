// Package oneinch implements the QuoteProvider port on the 1inch Swap API v6.
//
// The swap endpoint returns no minimum output, so quotes leave MinAmountOut
// unset and the aggregator derives it from its configured slippage.
package oneinch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/pkg/httpclient"
	"github.com/archon-research/dca/internal/ports/outbound"
)

// Compile-time check that Client implements outbound.QuoteProvider.
var _ outbound.QuoteProvider = (*Client)(nil)

// ClientConfig holds configuration for the 1inch client.
type ClientConfig struct {
	// APIKey is sent as a bearer token.
	APIKey string

	// BaseURL defaults to https://api.1inch.dev
	BaseURL string

	ChainID int64

	// SlippageBps bounds the router's own slippage check.
	SlippageBps int64

	HTTP   httpclient.Config
	Logger *slog.Logger
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		BaseURL:     "https://api.1inch.dev",
		ChainID:     1,
		SlippageBps: 50,
		HTTP:        httpclient.QuoteConfig(),
	}
}

// Client fetches swap transactions from 1inch.
type Client struct {
	config ClientConfig
	http   *httpclient.Client
	logger *slog.Logger
}

// NewClient creates a 1inch client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, errors.New("APIKey is required")
	}
	defaults := ClientConfigDefaults()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.ChainID == 0 {
		config.ChainID = defaults.ChainID
	}
	if config.SlippageBps == 0 {
		config.SlippageBps = defaults.SlippageBps
	}
	if config.HTTP.Timeout == 0 {
		config.HTTP = defaults.HTTP
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := config.Logger.With("component", "oneinch-client")

	return &Client{
		config: config,
		http:   httpclient.NewClient(config.HTTP, logger, parseError),
		logger: logger,
	}, nil
}

func (c *Client) Name() string { return "1inch" }

func (c *Client) Quote(ctx context.Context, req entity.QuoteRequest) (*entity.Quote, error) {
	query := url.Values{}
	query.Set("src", req.SourceAsset.Hex())
	query.Set("dst", req.TargetAsset.Hex())
	query.Set("amount", req.AmountIn.String())
	query.Set("from", req.Account.Hex())
	query.Set("origin", req.Account.Hex())
	query.Set("receiver", req.Receiver().Hex())
	query.Set("slippage", slippagePercent(c.config.SlippageBps))
	query.Set("disableEstimate", "true")

	endpoint := fmt.Sprintf("%s/swap/v6.0/%d/swap", strings.TrimRight(c.config.BaseURL, "/"), c.config.ChainID)

	var resp swapResponse
	err := c.http.DoRequest(ctx, httpclient.RequestConfig{
		URL:     endpoint,
		Query:   query,
		Headers: map[string]string{"Authorization": "Bearer " + c.config.APIKey},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("1inch swap: %w", err)
	}

	amountOut, ok := new(big.Int).SetString(resp.DstAmount, 10)
	if !ok || amountOut.Sign() < 0 {
		return nil, fmt.Errorf("1inch swap: invalid dstAmount %q", resp.DstAmount)
	}
	value := new(big.Int)
	if resp.Tx.Value != "" {
		if value, ok = new(big.Int).SetString(resp.Tx.Value, 10); !ok {
			return nil, fmt.Errorf("1inch swap: invalid tx value %q", resp.Tx.Value)
		}
	}
	if !common.IsHexAddress(resp.Tx.To) {
		return nil, fmt.Errorf("1inch swap: invalid tx target %q", resp.Tx.To)
	}
	data, err := hexutil.Decode(resp.Tx.Data)
	if err != nil {
		return nil, fmt.Errorf("1inch swap: invalid tx data: %w", err)
	}

	return &entity.Quote{
		SourceAsset:    req.SourceAsset,
		TargetAsset:    req.TargetAsset,
		AmountIn:       new(big.Int).Set(req.AmountIn),
		AmountOut:      amountOut,
		TargetContract: common.HexToAddress(resp.Tx.To),
		CallData:       data,
		Value:          value,
		Recipient:      req.Receiver(),
	}, nil
}

// slippagePercent formats bps as the percentage string 1inch expects (50 -> "0.5").
func slippagePercent(bps int64) string {
	return strconv.FormatFloat(float64(bps)/100, 'f', -1, 64)
}

func parseError(statusCode int, body []byte) error {
	if statusCode < 400 {
		return nil
	}
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Description == "" {
		return nil
	}
	return fmt.Errorf("1inch API error (HTTP %d): %s", statusCode, apiErr.Description)
}
