package model

import (
	"math/big"
	"strings"
	"time"
)

// VotingCycle is the cached view of one voting cycle.
type VotingCycle struct {
	CycleNumber          uint64    `json:"cycleNumber"`
	StartTime            time.Time `json:"startTime"`
	EndTime              time.Time `json:"endTime"`
	TotalVotes           string    `json:"totalVotes"`
	TotalVoters          int64     `json:"totalVoters"`
	ActiveEvermarksCount int64     `json:"activeEvermarksCount"`
	IsActive             bool      `json:"isActive"`
	Finalized            bool      `json:"finalized"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// EvermarkCycleTally is the aggregate for one evermark within one cycle.
type EvermarkCycleTally struct {
	EvermarkID  string    `json:"evermarkId"`
	CycleNumber uint64    `json:"cycleNumber"`
	TotalVotes  string    `json:"totalVotes"`
	VoterCount  int64     `json:"voterCount"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// UserVoteRecord is one voter's delegation to one evermark within one cycle.
type UserVoteRecord struct {
	UserAddress     string    `json:"userAddress"`
	EvermarkID      string    `json:"evermarkId"`
	CycleNumber     uint64    `json:"cycleNumber"`
	VoteAmount      string    `json:"voteAmount"`
	TransactionHash *string   `json:"transactionHash,omitempty"`
	BlockNumber     *uint64   `json:"blockNumber,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// CycleInfo is the contract's view of a cycle. Times are unix seconds.
type CycleInfo struct {
	StartTime            uint64
	EndTime              uint64
	TotalVotes           *big.Int
	TotalDelegations     *big.Int
	Finalized            bool
	ActiveEvermarksCount *big.Int
}

// IsActiveAt reports whether the cycle accepts votes at now.
func (c *CycleInfo) IsActiveAt(now time.Time) bool {
	return !c.Finalized && now.Before(time.Unix(int64(c.EndTime), 0))
}

// DelegationEvent is one decoded VoteDelegated log.
type DelegationEvent struct {
	User        string
	EvermarkID  string
	Amount      *big.Int
	Cycle       uint64
	HasCycle    bool
	TxHash      string
	BlockNumber uint64
}

// Complete reports whether every field needed to write a UserVoteRecord is present.
func (e *DelegationEvent) Complete() bool {
	return e.User != "" && e.EvermarkID != "" && e.Amount != nil && e.HasCycle
}

// NormalizeAddress lower-cases an address so cache keys are stable regardless of input casing.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// CanonicalEvermarkID renders an evermark id as the contract's uint256 in
// base 10, without sign or leading zeros, so every write path shares one key.
// It reports false, returning the trimmed input, when id is not an unsigned
// decimal integer.
func CanonicalEvermarkID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || id[0] == '+' || id[0] == '-' {
		return id, false
	}
	n, ok := new(big.Int).SetString(id, 10)
	if !ok {
		return id, false
	}
	return n.String(), true
}

// VoteCastPayload is the webhook (and Kafka) body for a single vote.
type VoteCastPayload struct {
	Type            string  `json:"type"`
	EvermarkID      string  `json:"evermarkId"`
	UserAddress     string  `json:"userAddress"`
	Amount          string  `json:"amount"`
	TransactionHash *string `json:"transactionHash,omitempty"`
	BlockNumber     *uint64 `json:"blockNumber,omitempty"`
	Cycle           *uint64 `json:"cycle"`
}

// SyncResult describes what a sync operation did.
type SyncResult struct {
	Written bool   `json:"written"`
	Message string `json:"message"`
}

// BackfillResult summarises a recent-window backfill.
type BackfillResult struct {
	FromBlock uint64 `json:"fromBlock"`
	ToBlock   uint64 `json:"toBlock"`
	Scanned   int    `json:"scanned"`
	Written   int    `json:"written"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

const (
	CacheHealthy = "healthy"
	CacheError   = "error"
)

// CacheStats is the cache health snapshot.
type CacheStats struct {
	TotalCachedEntries int64      `json:"totalCachedEntries"`
	LastSyncTime       *time.Time `json:"lastSyncTime"`
	ActiveCycles       int64      `json:"activeCycles"`
	CacheHealth        string     `json:"cacheHealth"`
}

const (
	UpdateKindTally    = "tally"
	UpdateKindUserVote = "user_vote"
	UpdateKindCycle    = "cycle"
)

// CacheUpdateEvent is published after a row has been persisted.
type CacheUpdateEvent struct {
	Kind        string    `json:"kind"`
	EvermarkID  string    `json:"evermarkId,omitempty"`
	CycleNumber uint64    `json:"cycleNumber"`
	UserAddress string    `json:"userAddress,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
