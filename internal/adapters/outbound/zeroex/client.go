// Package zeroex implements the QuoteProvider port on the 0x Swap API
// (allowance-holder flow).
package zeroex

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

// ClientConfig holds configuration for the 0x client.
type ClientConfig struct {
	// APIKey is sent as the 0x-api-key header.
	APIKey string

	// BaseURL defaults to https://api.0x.org
	BaseURL string

	ChainID int64

	// SlippageBps is forwarded to the API, which returns minBuyAmount accordingly.
	SlippageBps int64

	HTTP   httpclient.Config
	Logger *slog.Logger
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		BaseURL:     "https://api.0x.org",
		ChainID:     1,
		SlippageBps: 50,
		HTTP:        httpclient.QuoteConfig(),
	}
}

// Client fetches executable quotes from 0x.
type Client struct {
	config ClientConfig
	http   *httpclient.Client
	logger *slog.Logger
}

// NewClient creates a 0x client.
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
	logger := config.Logger.With("component", "zeroex-client")

	return &Client{
		config: config,
		http:   httpclient.NewClient(config.HTTP, logger, parseError),
		logger: logger,
	}, nil
}

func (c *Client) Name() string { return "0x" }

// Quote requests a firm quote with the execution account as taker. The
// output is delivered to req.Receiver().
func (c *Client) Quote(ctx context.Context, req entity.QuoteRequest) (*entity.Quote, error) {
	query := url.Values{}
	query.Set("chainId", strconv.FormatInt(c.config.ChainID, 10))
	query.Set("sellToken", req.SourceAsset.Hex())
	query.Set("buyToken", req.TargetAsset.Hex())
	query.Set("sellAmount", req.AmountIn.String())
	query.Set("taker", req.Account.Hex())
	query.Set("recipient", req.Receiver().Hex())
	query.Set("slippageBps", strconv.FormatInt(c.config.SlippageBps, 10))

	var resp quoteResponse
	err := c.http.DoRequest(ctx, httpclient.RequestConfig{
		URL:   strings.TrimRight(c.config.BaseURL, "/") + "/swap/allowance-holder/quote",
		Query: query,
		Headers: map[string]string{
			"0x-api-key": c.config.APIKey,
			"0x-version": "v2",
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("0x quote: %w", err)
	}
	if !resp.LiquidityAvailable {
		return nil, fmt.Errorf("0x quote: no liquidity for %s -> %s", req.SourceAsset.Hex(), req.TargetAsset.Hex())
	}
	return toQuote(req, &resp)
}

func toQuote(req entity.QuoteRequest, resp *quoteResponse) (*entity.Quote, error) {
	amountOut, err := parseAmount("buyAmount", resp.BuyAmount)
	if err != nil {
		return nil, err
	}
	amountIn, err := parseAmount("sellAmount", resp.SellAmount)
	if err != nil {
		return nil, err
	}
	var minOut *big.Int
	if resp.MinBuyAmount != "" {
		if minOut, err = parseAmount("minBuyAmount", resp.MinBuyAmount); err != nil {
			return nil, err
		}
	}
	value := new(big.Int)
	if resp.Transaction.Value != "" {
		if value, err = parseAmount("transaction.value", resp.Transaction.Value); err != nil {
			return nil, err
		}
	}
	if !common.IsHexAddress(resp.Transaction.To) {
		return nil, fmt.Errorf("0x quote: invalid transaction target %q", resp.Transaction.To)
	}
	data, err := hexutil.Decode(resp.Transaction.Data)
	if err != nil {
		return nil, fmt.Errorf("0x quote: invalid transaction data: %w", err)
	}

	return &entity.Quote{
		SourceAsset:    req.SourceAsset,
		TargetAsset:    req.TargetAsset,
		AmountIn:       amountIn,
		AmountOut:      amountOut,
		MinAmountOut:   minOut,
		TargetContract: common.HexToAddress(resp.Transaction.To),
		CallData:       data,
		Value:          value,
		Recipient:      req.Receiver(),
	}, nil
}

func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("0x quote: invalid %s %q", field, s)
	}
	return v, nil
}

// parseError turns a 0x error body into an error; a 200 body never is one.
func parseError(statusCode int, body []byte) error {
	if statusCode < 400 {
		return nil
	}
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Name == "" {
		return nil
	}
	return fmt.Errorf("0x API error %s (HTTP %d): %s", apiErr.Name, statusCode, apiErr.Message)
}
