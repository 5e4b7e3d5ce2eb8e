// Package orderbook reads orders from a CoW Protocol style order book API.
package orderbook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/dca/internal/pkg/httpclient"
	"github.com/archon-research/dca/internal/ports/outbound"
)

// Compile-time check that Client implements outbound.OrderBookClient.
var _ outbound.OrderBookClient = (*Client)(nil)

// ClientConfig holds configuration for the order book client.
type ClientConfig struct {
	// BaseURL is the API root, e.g. https://api.cow.fi/mainnet
	BaseURL string

	// PageSize is the number of orders requested per page.
	// Default: 1000, the API maximum.
	PageSize int

	HTTP   httpclient.Config
	Logger *slog.Logger
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		BaseURL:  "https://api.cow.fi/mainnet",
		PageSize: 1000,
		HTTP:     httpclient.DefaultConfig(),
	}
}

type remoteOrder struct {
	UID                string `json:"uid"`
	Status             string `json:"status"`
	SellAmount         string `json:"sellAmount"`
	ExecutedSellAmount string `json:"executedSellAmount"`
}

type apiError struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
}

// Client lists an owner's orders.
type Client struct {
	config ClientConfig
	http   *httpclient.Client
	logger *slog.Logger
}

// NewClient creates an order book client.
func NewClient(config ClientConfig) (*Client, error) {
	defaults := ClientConfigDefaults()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.HTTP.Timeout == 0 {
		config.HTTP = defaults.HTTP
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	logger := config.Logger.With("component", "orderbook-client")
	return &Client{
		config: config,
		http:   httpclient.NewClient(config.HTTP, logger, parseError),
		logger: logger,
	}, nil
}

// OrdersByOwner pages through every order of owner.
func (c *Client) OrdersByOwner(ctx context.Context, owner common.Address) ([]outbound.RemoteOrder, error) {
	endpoint := fmt.Sprintf("%s/api/v1/account/%s/orders", strings.TrimRight(c.config.BaseURL, "/"), owner.Hex())

	var out []outbound.RemoteOrder
	for offset := 0; ; offset += c.config.PageSize {
		query := url.Values{}
		query.Set("offset", strconv.Itoa(offset))
		query.Set("limit", strconv.Itoa(c.config.PageSize))

		var page []remoteOrder
		if err := c.http.DoRequest(ctx, httpclient.RequestConfig{URL: endpoint, Query: query}, &page); err != nil {
			return nil, fmt.Errorf("listing orders of %s: %w", owner.Hex(), err)
		}
		for _, o := range page {
			converted, err := convert(o)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		if len(page) < c.config.PageSize {
			break
		}
	}
	c.logger.Debug("fetched remote orders", "owner", owner.Hex(), "count", len(out))
	return out, nil
}

func convert(o remoteOrder) (outbound.RemoteOrder, error) {
	executed := new(big.Int)
	if o.ExecutedSellAmount != "" {
		var ok bool
		if executed, ok = new(big.Int).SetString(o.ExecutedSellAmount, 10); !ok {
			return outbound.RemoteOrder{}, fmt.Errorf("order %s: invalid executedSellAmount %q", o.UID, o.ExecutedSellAmount)
		}
	}
	return outbound.RemoteOrder{
		UID:                o.UID,
		Status:             o.Status,
		ExecutedSellAmount: executed,
	}, nil
}

func parseError(statusCode int, body []byte) error {
	if statusCode < 400 {
		return nil
	}
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.ErrorType == "" {
		return nil
	}
	return fmt.Errorf("order book error %s (HTTP %d): %s", apiErr.ErrorType, statusCode, apiErr.Description)
}
