// Package chain – JSON-RPC node access.
//
// Client abstracts the node reads the rail needs; RPCClient is the real
// implementation speaking JSON-RPC over HTTP. Hot reads shared by many
// requests (recent block hash, gas price) go through a short-TTL cache so
// quote building and gasless construction do not hammer the node.
package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
)

// Client is the read surface of a settlement network node.
type Client interface {
	// Confirmations returns the confirmation depth of a transaction, zero
	// when the transaction is not yet included in a block.
	Confirmations(ctx context.Context, network, txRef string) (uint64, error)
	// BalanceOf returns the token balance of an address in atomic units.
	BalanceOf(ctx context.Context, network, assetContract, address string) (*big.Int, error)
	// AccountNonce returns the pending transaction count of an address.
	AccountNonce(ctx context.Context, network, address string) (uint64, error)
	// GasPrice returns the current gas price suggestion.
	GasPrice(ctx context.Context, network string) (*big.Int, error)
	// RecentBlockHash returns a recent block hash, cached for a short TTL.
	RecentBlockHash(ctx context.Context, network string) (string, error)
}

// cacheTTL bounds the staleness of block hash and gas price reads.
const cacheTTL = 5 * time.Second

type cachedValue struct {
	value     string
	gasPrice  *big.Int
	fetchedAt time.Time
}

// RPCClient talks JSON-RPC to the configured networks.
type RPCClient struct {
	networks   map[string]NetworkConfig
	httpClient *http.Client

	mu    sync.RWMutex
	cache map[string]cachedValue
}

// NewRPCClient constructs an RPCClient. A nil httpClient uses a default with
// a conservative timeout.
func NewRPCClient(networks map[string]NetworkConfig, httpClient *http.Client) *RPCClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RPCClient{
		networks:   networks,
		httpClient: httpClient,
		cache:      make(map[string]cachedValue),
	}
}

func (c *RPCClient) Confirmations(ctx context.Context, network, txRef string) (uint64, error) {
	var receipt struct {
		BlockNumber string `json:"blockNumber"`
	}
	if err := c.call(ctx, network, "eth_getTransactionReceipt", []any{txRef}, &receipt); err != nil {
		return 0, err
	}
	if receipt.BlockNumber == "" {
		return 0, nil // pending
	}
	txBlock, err := parseHexUint(receipt.BlockNumber)
	if err != nil {
		return 0, fmt.Errorf("malformed receipt block number: %w", err)
	}

	var headHex string
	if err := c.call(ctx, network, "eth_blockNumber", []any{}, &headHex); err != nil {
		return 0, err
	}
	head, err := parseHexUint(headHex)
	if err != nil {
		return 0, fmt.Errorf("malformed head block number: %w", err)
	}
	if head < txBlock {
		return 0, nil
	}
	return head - txBlock + 1, nil
}

func (c *RPCClient) BalanceOf(ctx context.Context, network, assetContract, address string) (*big.Int, error) {
	// balanceOf(address) returns (uint256)
	methodID := keccak256([]byte("balanceOf(address)"))[:4]
	callData := append(methodID, padAddress(address)...)

	var result string
	err := c.call(ctx, network, "eth_call", []any{
		map[string]string{
			"to":   assetContract,
			"data": "0x" + hex.EncodeToString(callData),
		},
		"latest",
	}, &result)
	if err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(strings.TrimPrefix(result, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("malformed balance: %s", result)
	}
	return balance, nil
}

// SendTransaction broadcasts a signed transaction and returns its hash.
func (c *RPCClient) SendTransaction(ctx context.Context, network string, tx *types.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encode transaction: %w", err)
	}
	var hash string
	if err := c.call(ctx, network, "eth_sendRawTransaction", []any{"0x" + hex.EncodeToString(raw)}, &hash); err != nil {
		return "", err
	}
	if hash == "" {
		return "", fmt.Errorf("node returned empty transaction hash")
	}
	return hash, nil
}

func (c *RPCClient) AccountNonce(ctx context.Context, network, address string) (uint64, error) {
	var result string
	if err := c.call(ctx, network, "eth_getTransactionCount", []any{address, "pending"}, &result); err != nil {
		return 0, err
	}
	return parseHexUint(result)
}

func (c *RPCClient) GasPrice(ctx context.Context, network string) (*big.Int, error) {
	c.mu.RLock()
	cached, ok := c.cache["gas:"+network]
	c.mu.RUnlock()
	if ok && time.Since(cached.fetchedAt) < cacheTTL && cached.gasPrice != nil {
		return new(big.Int).Set(cached.gasPrice), nil
	}

	var result string
	if err := c.call(ctx, network, "eth_gasPrice", []any{}, &result); err != nil {
		return nil, err
	}
	price, ok := new(big.Int).SetString(strings.TrimPrefix(result, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("malformed gas price: %s", result)
	}

	c.mu.Lock()
	c.cache["gas:"+network] = cachedValue{gasPrice: new(big.Int).Set(price), fetchedAt: time.Now()}
	c.mu.Unlock()
	return price, nil
}

func (c *RPCClient) RecentBlockHash(ctx context.Context, network string) (string, error) {
	c.mu.RLock()
	cached, ok := c.cache["hash:"+network]
	c.mu.RUnlock()
	if ok && time.Since(cached.fetchedAt) < cacheTTL && cached.value != "" {
		return cached.value, nil
	}

	var block struct {
		Hash string `json:"hash"`
	}
	if err := c.call(ctx, network, "eth_getBlockByNumber", []any{"latest", false}, &block); err != nil {
		return "", err
	}
	if block.Hash == "" {
		return "", fmt.Errorf("node returned empty block hash")
	}

	c.mu.Lock()
	c.cache["hash:"+network] = cachedValue{value: block.Hash, fetchedAt: time.Now()}
	c.mu.Unlock()
	return block.Hash, nil
}

func (c *RPCClient) call(ctx context.Context, network, method string, params any, result any) error {
	cfg, ok := c.networks[network]
	if !ok {
		return fmt.Errorf("unsupported network: %s", network)
	}
	if cfg.RPCEndpoint == "" {
		return fmt.Errorf("no RPC endpoint configured for network %s", network)
	}

	reqBody, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.RPCEndpoint, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var rpcResp struct {
		Result json.RawMessage  `json:"result"`
		Error  *json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("malformed RPC response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("RPC error: %s", string(*rpcResp.Error))
	}
	if string(rpcResp.Result) == "null" || len(rpcResp.Result) == 0 {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, result)
}

func parseHexUint(s string) (uint64, error) {
	v, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok {
		return 0, fmt.Errorf("invalid hex number: %s", s)
	}
	return v.Uint64(), nil
}
