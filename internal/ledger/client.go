// Package ledger talks to the CertificateStorage contract. It is a
// stateless facade over the chain: it owns no records and enforces no
// uniqueness beyond propagating the contract's own rejections.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/certrail/certrail/internal/hashing"
)

// Record is the on-chain anchor for one certificate.
type Record struct {
	Name  string `json:"name"`
	Event string `json:"event"`
	Date  string `json:"date"`
	Hash  string `json:"hash"`
}

// TxReceipt summarizes a confirmed store transaction.
type TxReceipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
}

// Anchorer is the ledger surface the rest of the pipeline depends on.
type Anchorer interface {
	Store(ctx context.Context, id, hash, name, event, date string) (*TxReceipt, error)
	Verify(ctx context.Context, id, hash string) (bool, error)
	FetchDetails(ctx context.Context, id string) (*Record, error)
}

// Per-call deadlines. A deadline firing mid-flight leaves the effect
// unknown; callers treat the resulting ErrConnectivity as retryable and
// re-check persisted state instead of assuming failure.
const (
	defaultCallTimeout  = 15 * time.Second
	defaultStoreTimeout = 2 * time.Minute // covers submission plus mining
)

// Config holds connection and signing parameters for the eth client.
type Config struct {
	RPCURL          string
	ContractAddress string
	PrivateKey      string // hex-encoded, no 0x prefix
	ChainID         int64
	GasLimit        uint64        // 0 lets the node estimate
	CallTimeout     time.Duration // 0 uses defaultCallTimeout
	StoreTimeout    time.Duration // 0 uses defaultStoreTimeout
}

// Client implements Anchorer against an EVM chain.
type Client struct {
	eth          *ethclient.Client
	contract     *bind.BoundContract
	opts         *bind.TransactOpts
	gasLimit     uint64
	callTimeout  time.Duration
	storeTimeout time.Duration
}

var _ Anchorer = (*Client)(nil)

// Dial connects to the chain, binds the contract, and prepares a signing
// transactor for store calls.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ContractAddress == "" || cfg.PrivateKey == "" {
		return nil, fmt.Errorf("%w: contract address and private key are required", ErrValidation)
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnectivity, cfg.RPCURL, err)
	}

	parsed, err := abi.JSON(strings.NewReader(storageABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", ErrValidation, err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("%w: query chain id: %v", ErrConnectivity, err)
		}
	}

	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("build transactor: %w", err)
	}

	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	storeTimeout := cfg.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}

	addr := common.HexToAddress(cfg.ContractAddress)
	return &Client{
		eth:          eth,
		contract:     bind.NewBoundContract(addr, parsed, eth, eth, eth),
		opts:         opts,
		gasLimit:     cfg.GasLimit,
		callTimeout:  callTimeout,
		storeTimeout: storeTimeout,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Store submits a storeCertificate transaction and blocks until it is
// mined. A receipt with failed status is surfaced as ErrContractRejected;
// the caller must not blindly retry it with the same id.
func (c *Client) Store(ctx context.Context, id, hash, name, event, date string) (*TxReceipt, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty certificate id", ErrValidation)
	}
	if !hashing.Valid(hash) {
		return nil, fmt.Errorf("%w: malformed digest %q", ErrValidation, hash)
	}

	ctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	opts := *c.opts
	opts.Context = ctx
	opts.GasLimit = c.gasLimit

	tx, err := c.contract.Transact(&opts, "storeCertificate", id, hashing.Prefixed(hash), name, event, date)
	if err != nil {
		return nil, classify("submit storeCertificate", err)
	}

	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return nil, classify("wait for receipt", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: transaction %s reverted", ErrContractRejected, tx.Hash().Hex())
	}

	return &TxReceipt{
		TxHash:      tx.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}, nil
}

// Verify asks the contract whether hash matches the stored record for id.
// Read-only; a mismatch is a false result, not an error.
func (c *Client) Verify(ctx context.Context, id, hash string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var out []any
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "verifyCertificate", id, hashing.Prefixed(hash))
	if err != nil {
		return false, classify("call verifyCertificate", err)
	}
	valid, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected verifyCertificate result %T", out[0])
	}
	return valid, nil
}

// FetchDetails returns the stored record for id. The contract hands back
// an all-defaults record for unknown ids; that is reported as ErrNotFound
// rather than as an empty Record.
func (c *Client) FetchDetails(ctx context.Context, id string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var out []any
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getCertificateDetails", id)
	if err != nil {
		return nil, classify("call getCertificateDetails", err)
	}
	if len(out) != 4 {
		return nil, fmt.Errorf("unexpected getCertificateDetails arity %d", len(out))
	}

	rec := &Record{
		Name:  out[0].(string),
		Event: out[1].(string),
		Date:  out[2].(string),
		Hash:  out[3].(string),
	}
	if isEmptyRecord(rec) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

// isEmptyRecord detects the contract's zero-valued default. The hash is
// the discriminator: a present record always carries one, while name,
// event, and date are legitimately blank-able metadata.
func isEmptyRecord(r *Record) bool {
	return r.Hash == "" && r.Name == "" && r.Event == "" && r.Date == ""
}

// classify maps raw geth errors onto the pipeline taxonomy: reverts and
// gas-estimation failures are contract rejections, everything else is
// connectivity.
func classify(op string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "revert") || strings.Contains(msg, "always failing transaction") {
		return fmt.Errorf("%w: %s: %v", ErrContractRejected, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrConnectivity, op, err)
}
