package engine

import (
	"fmt"
	"math/big"
	"time"

	"github.com/archon-research/dca/internal/pkg/env"
)

// Config holds everything needed to assemble the execution engine.
type Config struct {
	DatabaseURL string
	// InMemory replaces Postgres with the in-memory repository, for local runs.
	InMemory bool

	RPCURL  string
	ChainID *big.Int

	// SessionKeys is the "keyId:hex,..." list of delegated signing keys.
	SessionKeys string

	RedisAddr     string
	RedisPassword string

	AllowListPath  string
	AllowListExtra string

	ZeroExAPIKey  string
	ZeroExBaseURL string
	OneInchAPIKey string
	SlippageBps   int64

	SNSExecutionsTopic    string
	SNSCancellationsTopic string
	AWSRegion             string
	AWSEndpoint           string

	PendingGracePeriod    time.Duration
	ConfirmationTimeout   time.Duration
	MaxConsecutiveReverts int
	MaxConcurrency        int
	ClaimTimeout          time.Duration
	InterBatchDelay       time.Duration
}

// ConfigFromEnv reads the engine configuration from the environment.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		DatabaseURL:           env.Get("DATABASE_URL", ""),
		InMemory:              env.GetBool("DCA_IN_MEMORY", false),
		RPCURL:                env.Get("ETH_RPC_URL", ""),
		SessionKeys:           env.Get("SESSION_KEYS", ""),
		RedisAddr:             env.Get("REDIS_ADDR", ""),
		RedisPassword:         env.Get("REDIS_PASSWORD", ""),
		AllowListPath:         env.Get("ALLOWLIST_PATH", "config/allowlist.yaml"),
		AllowListExtra:        env.Get("ALLOWLIST_EXTRA", ""),
		ZeroExAPIKey:          env.Get("ZEROEX_API_KEY", ""),
		ZeroExBaseURL:         env.Get("ZEROEX_BASE_URL", ""),
		OneInchAPIKey:         env.Get("ONEINCH_API_KEY", ""),
		SlippageBps:           int64(env.GetInt("SLIPPAGE_BPS", 50)),
		SNSExecutionsTopic:    env.Get("SNS_EXECUTIONS_TOPIC_ARN", ""),
		SNSCancellationsTopic: env.Get("SNS_CANCELLATIONS_TOPIC_ARN", ""),
		AWSRegion:             env.Get("AWS_REGION", "eu-west-1"),
		AWSEndpoint:           env.Get("AWS_ENDPOINT", ""),
		PendingGracePeriod:    env.GetDuration("PENDING_GRACE_PERIOD", 30*time.Minute),
		ConfirmationTimeout:   env.GetDuration("CONFIRMATION_TIMEOUT", 2*time.Minute),
		MaxConsecutiveReverts: env.GetInt("MAX_CONSECUTIVE_REVERTS", 3),
		MaxConcurrency:        env.GetInt("MAX_CONCURRENCY", 8),
		ClaimTimeout:          env.GetDuration("CLAIM_TIMEOUT", 15*time.Minute),
		InterBatchDelay:       env.GetDuration("INTER_BATCH_DELAY", 250*time.Millisecond),
	}

	chainID, ok := new(big.Int).SetString(env.Get("CHAIN_ID", "1"), 10)
	if !ok || chainID.Sign() <= 0 {
		return Config{}, fmt.Errorf("CHAIN_ID must be a positive integer")
	}
	cfg.ChainID = chainID

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.DatabaseURL == "" && !c.InMemory {
		return fmt.Errorf("DATABASE_URL is required (or set DCA_IN_MEMORY=true)")
	}
	if c.RPCURL == "" {
		return fmt.Errorf("ETH_RPC_URL is required")
	}
	if c.SessionKeys == "" {
		return fmt.Errorf("SESSION_KEYS is required")
	}
	if c.ZeroExAPIKey == "" && c.OneInchAPIKey == "" {
		return fmt.Errorf("at least one of ZEROEX_API_KEY or ONEINCH_API_KEY is required")
	}
	if (c.SNSExecutionsTopic == "") != (c.SNSCancellationsTopic == "") {
		return fmt.Errorf("set both SNS_EXECUTIONS_TOPIC_ARN and SNS_CANCELLATIONS_TOPIC_ARN or neither")
	}
	return nil
}
