package dcasdk

import "time"

// Amounts are decimal strings in the asset's base units. Addresses are
// 0x-prefixed hex.

// Scope limits what a delegated key may call.
type Scope struct {
	Targets      []string `json:"targets"`
	Selectors    []string `json:"selectors,omitempty"`
	ValueCeiling string   `json:"valueCeiling,omitempty"`
}

// Credential is a delegated, scope-limited signing authority.
type Credential struct {
	KeyID        string    `json:"keyId"`
	BoundAccount string    `json:"boundAccount"`
	Scope        Scope     `json:"scope"`
	ValidAfter   time.Time `json:"validAfter"`
	ValidUntil   time.Time `json:"validUntil"`
}

// Order is a recurring order as returned by the API. Credentials are never
// echoed back beyond their key id and validity.
type Order struct {
	ID                  string     `json:"id"`
	Owner               string     `json:"owner"`
	FundingAccount      string     `json:"fundingAccount"`
	SourceAsset         string     `json:"sourceAsset"`
	TargetAsset         string     `json:"targetAsset"`
	Destination         string     `json:"destination"`
	TotalAmount         string     `json:"totalAmount"`
	ExecutedAmount      string     `json:"executedAmount"`
	PerExecutionAmount  string     `json:"perExecutionAmount"`
	TotalExecutions     int        `json:"totalExecutions"`
	ExecutionsCompleted int        `json:"executionsCompleted"`
	IntervalSeconds     int64      `json:"intervalSeconds"`
	NextExecutionAt     time.Time  `json:"nextExecutionAt"`
	ExpiresAt           time.Time  `json:"expiresAt"`
	Status              string     `json:"status"`
	Venue               string     `json:"venue"`
	ExternalUID         string     `json:"externalUid,omitempty"`
	StallReason         string     `json:"stallReason,omitempty"`
	ConsecutiveReverts  int        `json:"consecutiveReverts"`
	LastError           string     `json:"lastError,omitempty"`
	CredentialKeyID     string     `json:"credentialKeyId,omitempty"`
	CredentialExpiresAt *time.Time `json:"credentialExpiresAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	LastExecutedAt      *time.Time `json:"lastExecutedAt,omitempty"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// Execution is one entry of an order's append-only execution log.
type Execution struct {
	ID           string    `json:"id"`
	OrderID      string    `json:"orderId"`
	Cycle        int       `json:"cycle"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	TxReference  string    `json:"txReference,omitempty"`
	AmountIn     string    `json:"amountIn"`
	AmountOut    string    `json:"amountOut"`
	GasUsed      uint64    `json:"gasUsed,omitempty"`
	QuoteSource  string    `json:"quoteSource,omitempty"`
	ErrorCode    string    `json:"errorCode,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	ExecutedAt   time.Time `json:"executedAt"`
}

// CreateOrderRequest creates a recurring order. Exactly one of
// TotalExecutions or DurationSeconds must be set.
type CreateOrderRequest struct {
	Owner           string     `json:"owner"`
	FundingAccount  string     `json:"fundingAccount"`
	SourceAsset     string     `json:"sourceAsset"`
	TargetAsset     string     `json:"targetAsset"`
	Destination     string     `json:"destination,omitempty"`
	TotalAmount     string     `json:"totalAmount"`
	IntervalSeconds int64      `json:"intervalSeconds"`
	TotalExecutions int        `json:"totalExecutions,omitempty"`
	DurationSeconds int64      `json:"durationSeconds,omitempty"`
	StartAt         *time.Time `json:"startAt,omitempty"`
	Credential      Credential `json:"credential"`
	Venue           string     `json:"venue,omitempty"`
	ExternalUID     string     `json:"externalUid,omitempty"`
}

// OwnerRequest identifies the caller for pause and resume.
type OwnerRequest struct {
	Owner string `json:"owner"`
}

// CancelRequest cancels an order, optionally sweeping unspent funds back.
type CancelRequest struct {
	Owner               string `json:"owner"`
	SweepRemainingFunds bool   `json:"sweepRemainingFunds"`
}

// CancelResponse reports the cancelled order and the sweep outcome.
type CancelResponse struct {
	Order      Order  `json:"order"`
	SweepTxRef string `json:"sweepTxRef,omitempty"`
	SweepError string `json:"sweepError,omitempty"`
}

// ReauthorizeRequest replaces an order's credential.
type ReauthorizeRequest struct {
	Owner      string     `json:"owner"`
	Credential Credential `json:"credential"`
}

// ManualSweepRequest runs a sweep as of At, or now when At is nil.
type ManualSweepRequest struct {
	At *time.Time `json:"at,omitempty"`
}

// SweepResult summarises one scheduler sweep.
type SweepResult struct {
	StartedAt     time.Time `json:"startedAt"`
	Due           int       `json:"due"`
	Claimed       []string  `json:"claimed"`
	Skipped       int       `json:"skipped"`
	Failed        int       `json:"failed"`
	Expired       int       `json:"expired"`
	ReleasedStale int       `json:"releasedStale"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
