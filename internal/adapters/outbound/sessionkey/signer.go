package sessionkey

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/pkg/abis"
	"github.com/archon-research/dca/internal/ports/outbound"
)

// Compile-time check that Signer implements outbound.Signer
var _ outbound.Signer = (*Signer)(nil)

// ChainClient is the subset of ethclient.Client the signer needs.
type ChainClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Config holds signer configuration.
type Config struct {
	ChainID *big.Int
	// GasBufferPercent is added on top of the gas estimate.
	GasBufferPercent uint64
	// MaxFeeMultiplier scales the base fee when computing the fee cap.
	MaxFeeMultiplier int64
}

func configDefaults() Config {
	return Config{
		GasBufferPercent: 20,
		MaxFeeMultiplier: 2,
	}
}

// batchCall mirrors the (address,uint256,bytes) tuple of executeBatch.
type batchCall struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

// Signer builds, signs and broadcasts executeBatch transactions.
//
// Nonces are read with PendingNonceAt. Callers must serialize submissions
// per key, which the submission service does through an AccountLocker.
type Signer struct {
	client       ChainClient
	keys         *KeyStore
	smartAccount *abi.ABI
	config       Config
	logger       *slog.Logger
}

// NewSigner creates a session-key signer.
func NewSigner(client ChainClient, keys *KeyStore, config Config, logger *slog.Logger) (*Signer, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if keys == nil {
		return nil, fmt.Errorf("key store cannot be nil")
	}
	if config.ChainID == nil || config.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id must be positive")
	}
	defaults := configDefaults()
	if config.GasBufferPercent == 0 {
		config.GasBufferPercent = defaults.GasBufferPercent
	}
	if config.MaxFeeMultiplier == 0 {
		config.MaxFeeMultiplier = defaults.MaxFeeMultiplier
	}
	smartAccount, err := abis.GetSmartAccountABI()
	if err != nil {
		return nil, fmt.Errorf("loading smart account ABI: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Signer{
		client:       client,
		keys:         keys,
		smartAccount: smartAccount,
		config:       config,
		logger:       logger.With("component", "session-key-signer"),
	}, nil
}

// SignAndSubmit broadcasts batch from credential's session key and returns the tx hash.
func (s *Signer) SignAndSubmit(ctx context.Context, batch *entity.Batch, credential entity.Credential) (string, error) {
	if batch == nil || len(batch.Calls) == 0 {
		return "", fmt.Errorf("batch has no calls")
	}
	if credential.BoundAccount != batch.Account {
		return "", fmt.Errorf("%w: credential bound to %s, batch account %s",
			entity.ErrCredentialScope, credential.BoundAccount.Hex(), batch.Account.Hex())
	}
	key, ok := s.keys.Key(credential.KeyID)
	if !ok {
		return "", fmt.Errorf("unknown session key %q", credential.KeyID)
	}
	from, _ := s.keys.Address(credential.KeyID)

	data, err := s.encodeBatch(batch)
	if err != nil {
		return "", err
	}
	value := batch.TotalValue()
	to := batch.Account

	nonce, err := s.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("reading nonce of %s: %w", from.Hex(), err)
	}
	tip, err := s.client.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("suggesting gas tip: %w", err)
	}
	head, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("reading latest header: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(s.config.MaxFeeMultiplier))
	feeCap.Add(feeCap, tip)

	estimate, err := s.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		return "", fmt.Errorf("estimating gas: %w", err)
	}
	gas := estimate + estimate*s.config.GasBufferPercent/100

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.config.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.config.ChainID), key)
	if err != nil {
		return "", fmt.Errorf("signing transaction: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("broadcasting transaction: %w", err)
	}

	txRef := signed.Hash().Hex()
	s.logger.Info("batch submitted",
		"orderId", batch.OrderID,
		"txReference", txRef,
		"account", batch.Account.Hex(),
		"nonce", nonce,
		"calls", len(batch.Calls),
		"gas", gas)
	return txRef, nil
}

func (s *Signer) encodeBatch(batch *entity.Batch) ([]byte, error) {
	calls := make([]batchCall, len(batch.Calls))
	for i, c := range batch.Calls {
		value := c.Value
		if value == nil {
			value = new(big.Int)
		}
		data := c.Data
		if data == nil {
			data = []byte{}
		}
		calls[i] = batchCall{Target: c.Target, Value: value, Data: data}
	}
	data, err := s.smartAccount.Pack("executeBatch", calls)
	if err != nil {
		return nil, fmt.Errorf("packing executeBatch: %w", err)
	}
	return data, nil
}
