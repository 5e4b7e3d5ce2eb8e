package http

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/dca/internal/domain/entity"
	"github.com/archon-research/dca/internal/ports/inbound"
	"github.com/archon-research/dca/pkg/dcasdk"
)

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not an address", entity.ErrInvalidOrder, field, s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s %q is not a base-unit amount", entity.ErrInvalidOrder, field, s)
	}
	return v, nil
}

func toCredential(c dcasdk.Credential) (entity.Credential, error) {
	bound, err := parseAddress("credential.boundAccount", c.BoundAccount)
	if err != nil {
		return entity.Credential{}, err
	}
	cred := entity.Credential{
		KeyID:        c.KeyID,
		BoundAccount: bound,
		ValidAfter:   c.ValidAfter,
		ValidUntil:   c.ValidUntil,
	}
	for _, t := range c.Scope.Targets {
		addr, err := parseAddress("credential.scope.targets", t)
		if err != nil {
			return entity.Credential{}, err
		}
		cred.Scope.Targets = append(cred.Scope.Targets, addr)
	}
	for _, s := range c.Scope.Selectors {
		sel, err := entity.ParseSelector(s)
		if err != nil {
			return entity.Credential{}, fmt.Errorf("%w: %v", entity.ErrInvalidOrder, err)
		}
		cred.Scope.Selectors = append(cred.Scope.Selectors, sel)
	}
	if c.Scope.ValueCeiling != "" {
		ceiling, err := parseAmount("credential.scope.valueCeiling", c.Scope.ValueCeiling)
		if err != nil {
			return entity.Credential{}, err
		}
		cred.Scope.ValueCeiling = ceiling
	}
	return cred, nil
}

func toCreateRequest(req dcasdk.CreateOrderRequest) (inbound.CreateOrderRequest, error) {
	var out inbound.CreateOrderRequest
	var err error
	if out.Owner, err = parseAddress("owner", req.Owner); err != nil {
		return out, err
	}
	if out.FundingAccount, err = parseAddress("fundingAccount", req.FundingAccount); err != nil {
		return out, err
	}
	if out.SourceAsset, err = parseAddress("sourceAsset", req.SourceAsset); err != nil {
		return out, err
	}
	if out.TargetAsset, err = parseAddress("targetAsset", req.TargetAsset); err != nil {
		return out, err
	}
	out.Destination = out.FundingAccount
	if req.Destination != "" {
		if out.Destination, err = parseAddress("destination", req.Destination); err != nil {
			return out, err
		}
	}
	if out.TotalAmount, err = parseAmount("totalAmount", req.TotalAmount); err != nil {
		return out, err
	}
	if out.Credential, err = toCredential(req.Credential); err != nil {
		return out, err
	}
	out.Interval = time.Duration(req.IntervalSeconds) * time.Second
	out.TotalExecutions = req.TotalExecutions
	out.Duration = time.Duration(req.DurationSeconds) * time.Second
	if req.StartAt != nil {
		out.StartAt = *req.StartAt
	}
	out.Venue = entity.VenueDirect
	if req.Venue != "" {
		out.Venue = entity.Venue(req.Venue)
	}
	out.ExternalUID = req.ExternalUID
	return out, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func fromOrder(o *entity.Order) dcasdk.Order {
	out := dcasdk.Order{
		ID:                  o.ID.String(),
		Owner:               o.Owner.Hex(),
		FundingAccount:      o.FundingAccount.Hex(),
		SourceAsset:         o.SourceAsset.Hex(),
		TargetAsset:         o.TargetAsset.Hex(),
		Destination:         o.Destination.Hex(),
		TotalAmount:         amountString(o.TotalAmount),
		ExecutedAmount:      amountString(o.ExecutedAmount),
		PerExecutionAmount:  amountString(o.PerExecutionAmount()),
		TotalExecutions:     o.TotalExecutions,
		ExecutionsCompleted: o.ExecutionsCompleted,
		IntervalSeconds:     int64(o.Interval / time.Second),
		NextExecutionAt:     o.NextExecutionAt,
		ExpiresAt:           o.ExpiresAt,
		Status:              string(o.Status),
		Venue:               string(o.Venue),
		ExternalUID:         o.ExternalUID,
		StallReason:         string(o.StallReason),
		ConsecutiveReverts:  o.ConsecutiveReverts,
		LastError:           o.LastError,
		CredentialKeyID:     o.Credential.KeyID,
		CreatedAt:           o.CreatedAt,
		LastExecutedAt:      o.LastExecutedAt,
		UpdatedAt:           o.UpdatedAt,
	}
	if !o.Credential.ValidUntil.IsZero() {
		until := o.Credential.ValidUntil
		out.CredentialExpiresAt = &until
	}
	return out
}

func fromOrders(orders []*entity.Order) []dcasdk.Order {
	out := make([]dcasdk.Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, fromOrder(o))
	}
	return out
}

func fromExecutions(executions []*entity.Execution) []dcasdk.Execution {
	out := make([]dcasdk.Execution, 0, len(executions))
	for _, e := range executions {
		out = append(out, dcasdk.Execution{
			ID:           e.ID.String(),
			OrderID:      e.OrderID.String(),
			Cycle:        e.Cycle,
			Kind:         string(e.Kind),
			Status:       string(e.Status),
			TxReference:  e.TxReference,
			AmountIn:     amountString(e.AmountIn),
			AmountOut:    amountString(e.AmountOut),
			GasUsed:      e.GasUsed,
			QuoteSource:  e.QuoteSource,
			ErrorCode:    e.ErrorCode,
			ErrorMessage: e.ErrorMessage,
			ExecutedAt:   e.ExecutedAt,
		})
	}
	return out
}

func fromSweepResult(r *inbound.SweepResult) dcasdk.SweepResult {
	claimed := r.Claimed
	if claimed == nil {
		claimed = []string{}
	}
	return dcasdk.SweepResult{
		StartedAt:     r.StartedAt,
		Due:           r.Due,
		Claimed:       claimed,
		Skipped:       r.Skipped,
		Failed:        r.Failed,
		Expired:       r.Expired,
		ReleasedStale: r.ReleasedStale,
	}
}
