package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lvdashuaibi/evermark-sync/internal/cache"
	"github.com/lvdashuaibi/evermark-sync/internal/chain"
	"github.com/lvdashuaibi/evermark-sync/internal/repository"
	"go.uber.org/zap"
)

// fakeContract simulates the voting contract behind chain.Provider.
type fakeContract struct {
	mu sync.Mutex

	current    *big.Int
	cycles     map[uint64][]interface{}
	votes      map[string]*big.Int
	events     []chain.Event
	eventsErr  error
	head       uint64
	headErr    error
	reads      int
	scans      int
	lastWindow chain.BlockRange
}

func newFakeContract() *fakeContract {
	return &fakeContract{
		cycles: make(map[uint64][]interface{}),
		votes:  make(map[string]*big.Int),
	}
}

func voteKey(cycle uint64, id string) string { return fmt.Sprintf("%d/%s", cycle, id) }

func (f *fakeContract) setVotes(cycle uint64, id string, v int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes[voteKey(cycle, id)] = big.NewInt(v)
}

func (f *fakeContract) setCycle(cycle uint64, start, end time.Time, totalVotes, delegations int64, finalized bool, active int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles[cycle] = []interface{}{
		big.NewInt(start.Unix()), big.NewInt(end.Unix()),
		big.NewInt(totalVotes), big.NewInt(delegations), finalized, big.NewInt(active),
	}
}

func (f *fakeContract) ReadContract(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++

	switch method {
	case chain.MethodGetCurrentCycle:
		if f.current == nil {
			return nil, errors.New("rpc unavailable")
		}
		return []interface{}{f.current}, nil
	case chain.MethodGetCycleInfo:
		out, ok := f.cycles[args[0].(*big.Int).Uint64()]
		if !ok {
			return nil, errors.New("execution reverted")
		}
		return out, nil
	case chain.MethodGetEvermarkVotes:
		v, ok := f.votes[voteKey(args[0].(*big.Int).Uint64(), args[1].(*big.Int).String())]
		if !ok {
			return nil, errors.New("execution reverted")
		}
		return []interface{}{v}, nil
	}
	return nil, fmt.Errorf("unknown method %s", method)
}

func (f *fakeContract) GetEvents(ctx context.Context, event string, r chain.BlockRange) ([]chain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	f.lastWindow = r
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	return f.events, nil
}

func (f *fakeContract) LatestBlock(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, f.headErr
}

func (f *fakeContract) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads + f.scans
}

func delegation(user string, evermarkID, amount, cycle int64, block uint64) chain.Event {
	return chain.Event{
		Fields: map[string]interface{}{
			"user":       common.HexToAddress(user),
			"evermarkId": big.NewInt(evermarkID),
			"amount":     big.NewInt(amount),
			"cycle":      big.NewInt(cycle),
		},
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block)).Hex(),
		BlockNumber: block,
	}
}

// tickingClock returns a strictly increasing time on every call.
type tickingClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type harness struct {
	contract *fakeContract
	store    *repository.MemoryStore
	svc      *SyncService
	clock    *tickingClock
}

func newHarness() *harness {
	logger := zap.NewNop()
	contract := newFakeContract()
	store := repository.NewMemoryStore()
	clock := &tickingClock{t: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	writer := cache.NewWriter(store, logger, cache.WithClock(clock.Now))

	svc := NewSyncService(
		chain.NewContractReader(contract, logger),
		chain.NewScanner(contract, logger),
		contract,
		writer,
		logger,
	)
	return &harness{contract: contract, store: store, svc: svc, clock: clock}
}

type chainEvent = chain.Event

func u64(v uint64) *uint64 { return &v }

func bigInt(v int64) *big.Int { return big.NewInt(v) }
