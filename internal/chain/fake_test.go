package chain

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// fakeProvider is an in-memory Provider.
type fakeProvider struct {
	mu       sync.Mutex
	reads    map[string][]interface{}
	readErr  map[string]error
	events   []Event
	eventErr error
	head     uint64
	headErr  error

	calls      []string
	lastRange  BlockRange
	lastArgs   []interface{}
	eventCalls int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		reads:   make(map[string][]interface{}),
		readErr: make(map[string]error),
	}
}

func (f *fakeProvider) ReadContract(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	f.lastArgs = args
	if err := f.readErr[method]; err != nil {
		return nil, err
	}
	return f.reads[method], nil
}

func (f *fakeProvider) GetEvents(ctx context.Context, event string, r BlockRange) ([]Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eventCalls++
	f.lastRange = r
	if f.eventErr != nil {
		return nil, f.eventErr
	}
	return f.events, nil
}

func (f *fakeProvider) LatestBlock(ctx context.Context) (uint64, error) {
	return f.head, f.headErr
}

func delegation(user string, evermarkID, amount, cycle int64, block uint64) Event {
	return Event{
		Fields: map[string]interface{}{
			"user":       common.HexToAddress(user),
			"evermarkId": big.NewInt(evermarkID),
			"amount":     big.NewInt(amount),
			"cycle":      big.NewInt(cycle),
		},
		TxHash:      common.BigToHash(big.NewInt(int64(block))).Hex(),
		BlockNumber: block,
	}
}
