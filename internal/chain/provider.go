package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// BlockRange is an inclusive block window. A nil To means the chain head.
type BlockRange struct {
	From uint64
	To   *uint64
}

func (r BlockRange) String() string {
	if r.To == nil {
		return fmt.Sprintf("[%d, latest]", r.From)
	}
	return fmt.Sprintf("[%d, %d]", r.From, *r.To)
}

// Event is a decoded contract log.
type Event struct {
	Fields      map[string]interface{}
	TxHash      string
	BlockNumber uint64
}

// Provider is the raw chain access the sync engine needs.
type Provider interface {
	ReadContract(ctx context.Context, method string, args ...interface{}) ([]interface{}, error)
	GetEvents(ctx context.Context, event string, r BlockRange) ([]Event, error)
	LatestBlock(ctx context.Context) (uint64, error)
}

// backend is the subset of ethclient.Client used by EthProvider.
type backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// EthProvider talks JSON-RPC to an EVM node and encodes calls with the voting ABI.
type EthProvider struct {
	backend  backend
	contract common.Address
	abi      abi.ABI
	timeout  time.Duration
	closer   func()
}

// NewEthProvider dials rpcURL and binds the voting contract at contractAddr.
func NewEthProvider(ctx context.Context, rpcURL, contractAddr string, timeout time.Duration) (*EthProvider, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", rpcURL, err)
	}

	p, err := newEthProvider(client, contractAddr, timeout)
	if err != nil {
		client.Close()
		return nil, err
	}
	p.closer = client.Close
	return p, nil
}

func newEthProvider(b backend, contractAddr string, timeout time.Duration) (*EthProvider, error) {
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("invalid voting contract address %q", contractAddr)
	}

	parsed, err := abi.JSON(strings.NewReader(VotingABI))
	if err != nil {
		return nil, fmt.Errorf("parse voting abi: %w", err)
	}

	return &EthProvider{
		backend:  b,
		contract: common.HexToAddress(contractAddr),
		abi:      parsed,
		timeout:  timeout,
	}, nil
}

func (p *EthProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

// ReadContract calls a view method and returns its decoded outputs.
func (p *EthProvider) ReadContract(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := p.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	out, err := p.backend.CallContract(ctx, ethereum.CallMsg{To: &p.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	values, err := p.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// GetEvents fetches and decodes every log of the named event in r.
func (p *EthProvider) GetEvents(ctx context.Context, event string, r BlockRange) ([]Event, error) {
	ev, ok := p.abi.Events[event]
	if !ok {
		return nil, fmt.Errorf("unknown event %s", event)
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(r.From),
		Addresses: []common.Address{p.contract},
		Topics:    [][]common.Hash{{ev.ID}},
	}
	if r.To != nil {
		query.ToBlock = new(big.Int).SetUint64(*r.To)
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	logs, err := p.backend.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter %s logs %s: %w", event, r, err)
	}

	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}

	events := make([]Event, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}

		fields := make(map[string]interface{})
		if len(lg.Data) > 0 {
			if err := p.abi.UnpackIntoMap(fields, event, lg.Data); err != nil {
				return nil, fmt.Errorf("decode %s data in tx %s: %w", event, lg.TxHash.Hex(), err)
			}
		}
		if len(lg.Topics) > 1 {
			if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err != nil {
				return nil, fmt.Errorf("decode %s topics in tx %s: %w", event, lg.TxHash.Hex(), err)
			}
		}

		events = append(events, Event{
			Fields:      fields,
			TxHash:      lg.TxHash.Hex(),
			BlockNumber: lg.BlockNumber,
		})
	}

	return events, nil
}

// LatestBlock returns the current chain head.
func (p *EthProvider) LatestBlock(ctx context.Context) (uint64, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	n, err := p.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("latest block number: %w", err)
	}
	return n, nil
}

// Close releases the RPC connection.
func (p *EthProvider) Close() {
	if p.closer != nil {
		p.closer()
	}
}
