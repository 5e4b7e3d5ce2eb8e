package sessionkey

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/pkg/abis"
	"github.com/archon-research/dca/internal/testutil"
)

type mockChainClient struct {
	nonce   uint64
	sendErr error
	sent    []*types.Transaction
	calls   []ethereum.CallMsg
}

func (m *mockChainClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return m.nonce, nil
}

func (m *mockChainClient) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(2), nil
}

func (m *mockChainClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(10)}, nil
}

func (m *mockChainClient) EstimateGas(_ context.Context, call ethereum.CallMsg) (uint64, error) {
	m.calls = append(m.calls, call)
	return 100_000, nil
}

func (m *mockChainClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, tx)
	return nil
}

func newTestSigner(t *testing.T, client ChainClient) (*Signer, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	signer, err := NewSigner(client, NewKeyStore(map[string]*ecdsa.PrivateKey{"session-key-1": key}),
		Config{ChainID: big.NewInt(1)}, testutil.DiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	return signer, key
}

func testBatch() *entity.Batch {
	return &entity.Batch{
		OrderID: uuid.New(),
		Account: testutil.Account,
		Calls: []entity.Call{
			{Kind: entity.CallApprove, Target: testutil.USDC, Value: new(big.Int), Data: []byte{0x09, 0x5e, 0xa7, 0xb3}},
			{Kind: entity.CallSwap, Target: testutil.Router, Value: big.NewInt(5), Data: []byte{0xd9, 0x62, 0x7a, 0xa4}},
		},
	}
}

func TestSignAndSubmit(t *testing.T) {
	client := &mockChainClient{nonce: 7}
	signer, key := newTestSigner(t, client)
	cred := testutil.NewCredential(time.Now())

	txRef, err := signer.SignAndSubmit(context.Background(), testBatch(), cred)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.sent) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(client.sent))
	}
	tx := client.sent[0]

	t.Run("returns tx hash", func(t *testing.T) {
		if txRef != tx.Hash().Hex() {
			t.Errorf("txRef = %s, want %s", txRef, tx.Hash().Hex())
		}
	})
	t.Run("signed by session key", func(t *testing.T) {
		from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), tx)
		if err != nil {
			t.Fatal(err)
		}
		if from != crypto.PubkeyToAddress(key.PublicKey) {
			t.Errorf("sender = %s", from.Hex())
		}
	})
	t.Run("calls the funding account", func(t *testing.T) {
		if tx.To() == nil || *tx.To() != testutil.Account {
			t.Errorf("to = %v", tx.To())
		}
		if tx.Value().Int64() != 5 {
			t.Errorf("value = %s, want 5", tx.Value())
		}
		if tx.Nonce() != 7 {
			t.Errorf("nonce = %d, want 7", tx.Nonce())
		}
	})
	t.Run("fees and gas", func(t *testing.T) {
		if tx.Type() != types.DynamicFeeTxType {
			t.Errorf("type = %d", tx.Type())
		}
		if tx.GasFeeCap().Int64() != 22 || tx.GasTipCap().Int64() != 2 {
			t.Errorf("feeCap=%s tip=%s", tx.GasFeeCap(), tx.GasTipCap())
		}
		if tx.Gas() != 120_000 {
			t.Errorf("gas = %d, want 120000", tx.Gas())
		}
	})
	t.Run("encodes executeBatch", func(t *testing.T) {
		smartAccount, _ := abis.GetSmartAccountABI()
		if !bytes.Equal(tx.Data()[:4], smartAccount.Methods["executeBatch"].ID) {
			t.Errorf("selector = %x", tx.Data()[:4])
		}
		if _, err := smartAccount.Methods["executeBatch"].Inputs.Unpack(tx.Data()[4:]); err != nil {
			t.Errorf("unpack: %v", err)
		}
	})
}

func TestSignAndSubmit_Rejections(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		batch  func() *entity.Batch
		cred   func() entity.Credential
		client *mockChainClient
	}{
		{
			name:   "empty batch",
			batch:  func() *entity.Batch { return &entity.Batch{Account: testutil.Account} },
			cred:   func() entity.Credential { return testutil.NewCredential(now) },
			client: &mockChainClient{},
		},
		{
			name:  "unknown key",
			batch: testBatch,
			cred: func() entity.Credential {
				c := testutil.NewCredential(now)
				c.KeyID = "missing"
				return c
			},
			client: &mockChainClient{},
		},
		{
			name:  "account mismatch",
			batch: testBatch,
			cred: func() entity.Credential {
				c := testutil.NewCredential(now)
				c.BoundAccount = testutil.Owner
				return c
			},
			client: &mockChainClient{},
		},
		{
			name:   "broadcast failure",
			batch:  testBatch,
			cred:   func() entity.Credential { return testutil.NewCredential(now) },
			client: &mockChainClient{sendErr: errors.New("nonce too low")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, _ := newTestSigner(t, tt.client)
			txRef, err := signer.SignAndSubmit(context.Background(), tt.batch(), tt.cred())
			if err == nil || txRef != "" {
				t.Errorf("SignAndSubmit = %q, %v; want error", txRef, err)
			}
		})
	}
}

func TestNewSigner_Validation(t *testing.T) {
	keys := NewKeyStore(nil)
	if _, err := NewSigner(nil, keys, Config{ChainID: big.NewInt(1)}, nil); err == nil {
		t.Error("expected error for nil client")
	}
	if _, err := NewSigner(&mockChainClient{}, keys, Config{}, nil); err == nil {
		t.Error("expected error for missing chain id")
	}
}
