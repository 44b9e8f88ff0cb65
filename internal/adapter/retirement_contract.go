package adapter

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/carbon-marketplace/internal/circuitbreaker"
	"github.com/carbon-marketplace/internal/config"
	"github.com/carbon-marketplace/internal/logging"
)

// RetirementContractABI is the part of the credit retirement contract we call
const RetirementContractABI = `[{
	"type": "function",
	"name": "retire",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "amount", "type": "uint256"},
		{"name": "beneficiary", "type": "address"},
		{"name": "projectName", "type": "string"}
	],
	"outputs": []
}]`

// ReceiptStatus is the outcome of a submitted transaction
type ReceiptStatus string

const (
	ReceiptUnknown ReceiptStatus = "unknown" // known to the node, not mined yet
	ReceiptDropped ReceiptStatus = "dropped" // neither mined nor known to the node
	ReceiptSuccess ReceiptStatus = "success"
	ReceiptFailed  ReceiptStatus = "failed"
)

// RetireCall describes one on-chain retirement
type RetireCall struct {
	Contract    string // contract address; empty uses the configured default
	Credits     int64
	Beneficiary string
	ProjectName string
}

// chainBackend is satisfied by *ethclient.Client
type chainBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error)
}

// RetirementContract signs and broadcasts retire() transactions and reads
// their receipts. Without an RPC endpoint and signer key every retirement is
// refused with ErrNotConfigured.
type RetirementContract struct {
	backend         chainBackend
	closer          func()
	contractABI     abi.ABI
	key             *ecdsa.PrivateKey
	chainID         *big.Int
	defaultContract string
	breaker         *circuitbreaker.CircuitBreaker

	// sendMu keeps sign, record and broadcast of one transaction together so
	// concurrent retirements do not sign with the same nonce
	sendMu sync.Mutex
}

// NewRetirementContract creates the contract client from chain configuration
func NewRetirementContract(cfg *config.ChainConfig) (*RetirementContract, error) {
	parsedABI, err := abi.JSON(strings.NewReader(RetirementContractABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse retirement ABI: %w", err)
	}

	rc := &RetirementContract{
		contractABI:     parsedABI,
		chainID:         big.NewInt(cfg.ChainID),
		defaultContract: cfg.ContractAddress,
		breaker:         circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("chain")),
	}

	if cfg.RPCURL == "" || cfg.SignerPrivateKey == "" {
		logging.Warnf("Chain RPC or signer key not configured, credit retirements will be refused")
		return rc, nil
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SignerPrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}
	rc.key = key

	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain RPC: %w", err)
	}
	rc.backend = client
	rc.closer = client.Close

	logging.WithFields(map[string]interface{}{
		"chainId": cfg.ChainID,
		"signer":  crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}).Info("Retirement contract client ready")
	return rc, nil
}

// Configured reports whether retirements can be signed and sent
func (rc *RetirementContract) Configured() bool {
	return rc.backend != nil && rc.key != nil
}

// Breaker exposes the circuit breaker for health reporting
func (rc *RetirementContract) Breaker() *circuitbreaker.CircuitBreaker {
	return rc.breaker
}

// Close releases the RPC connection
func (rc *RetirementContract) Close() {
	if rc.closer != nil {
		rc.closer()
	}
}

// Pack encodes the retire() call data; used to validate a call before sending
func (rc *RetirementContract) Pack(call RetireCall) ([]byte, error) {
	if !common.IsHexAddress(call.Beneficiary) {
		return nil, fmt.Errorf("invalid beneficiary address %q", call.Beneficiary)
	}
	if call.Credits <= 0 {
		return nil, errors.New("credits must be positive")
	}
	return rc.contractABI.Pack("retire", big.NewInt(call.Credits), common.HexToAddress(call.Beneficiary), call.ProjectName)
}

// Retire signs the retirement transaction, passes its hash to record and only
// then broadcasts it. It does not wait for the transaction to be mined.
//
// An empty hash with an error means nothing was sent. A hash with an error
// means the transaction was recorded but the broadcast failed: errors wrapping
// ErrRejected were refused by the node, anything else may still be mined.
func (rc *RetirementContract) Retire(ctx context.Context, call RetireCall, record func(txHash string) error) (string, error) {
	data, err := rc.Pack(call)
	if err != nil {
		return "", err
	}
	if !rc.Configured() {
		return "", fmt.Errorf("%w: chain RPC or signer key", ErrNotConfigured)
	}

	contractAddr := call.Contract
	if contractAddr == "" {
		contractAddr = rc.defaultContract
	}
	if !common.IsHexAddress(contractAddr) {
		return "", fmt.Errorf("%w: retirement contract address", ErrNotConfigured)
	}
	to := common.HexToAddress(contractAddr)

	rc.sendMu.Lock()
	defer rc.sendMu.Unlock()

	var tx *ethtypes.Transaction
	err = rc.breaker.Execute(ctx, func(ctx context.Context) error {
		signed, err := rc.sign(ctx, to, data)
		tx = signed
		return err
	})
	if err != nil {
		return "", err
	}
	txHash := tx.Hash().Hex()

	if err := record(txHash); err != nil {
		return "", fmt.Errorf("failed to record transaction %s: %w", txHash, err)
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"txHash":   txHash,
		"contract": contractAddr,
		"credits":  call.Credits,
	})

	err = rc.breaker.Execute(ctx, func(ctx context.Context) error {
		return rc.backend.SendTransaction(ctx, tx)
	})
	if err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) || errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			logger.WithError(err).Warn("Retire transaction rejected")
			return txHash, fmt.Errorf("%w: %v", ErrRejected, err)
		}
		logger.WithError(err).Warn("Retire transaction broadcast outcome unknown")
		return txHash, fmt.Errorf("failed to broadcast retire transaction: %w", err)
	}

	logger.Info("Retire transaction submitted")
	return txHash, nil
}

// sign builds and signs a legacy transaction calling retire() on to
func (rc *RetirementContract) sign(ctx context.Context, to common.Address, data []byte) (*ethtypes.Transaction, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(rc.key, rc.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	nonce, err := rc.backend.PendingNonceAt(ctx, auth.From)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := rc.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	gas, err := rc.backend.EstimateGas(ctx, ethereum.CallMsg{From: auth.From, To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      gas + gas/5,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := auth.Signer(auth.From, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to sign retire transaction: %w", err)
	}
	return signed, nil
}

// ReceiptStatus reports whether a transaction was mined and whether it
// succeeded. A transaction the node has never seen is reported as dropped.
func (rc *RetirementContract) ReceiptStatus(ctx context.Context, txHash string) (ReceiptStatus, error) {
	if rc.backend == nil {
		return ReceiptUnknown, fmt.Errorf("%w: chain RPC", ErrNotConfigured)
	}
	hash := common.HexToHash(txHash)

	receipt, err := rc.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if !errors.Is(err, ethereum.NotFound) {
			return ReceiptUnknown, fmt.Errorf("failed to get receipt: %w", err)
		}
		if _, _, err := rc.backend.TransactionByHash(ctx, hash); err != nil {
			if errors.Is(err, ethereum.NotFound) {
				return ReceiptDropped, nil
			}
			return ReceiptUnknown, fmt.Errorf("failed to look up transaction: %w", err)
		}
		return ReceiptUnknown, nil
	}
	if receipt.Status == ethtypes.ReceiptStatusSuccessful {
		return ReceiptSuccess, nil
	}
	return ReceiptFailed, nil
}
