package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/asset-registry/internal/circuitbreaker"
	apperrors "github.com/asset-registry/internal/errors"
	"github.com/asset-registry/internal/logging"
	"github.com/asset-registry/internal/metrics"
	"github.com/asset-registry/internal/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the subset of *ethclient.Client the ledger needs
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	Close()
}

// DialFunc connects to a JSON-RPC endpoint
type DialFunc func(ctx context.Context, url string) (Backend, error)

// DialEthclient dials with go-ethereum's ethclient
func DialEthclient(ctx context.Context, url string) (Backend, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// TxSigner signs transactions. SignTx must refuse any account other than
// the one currently connected.
type TxSigner interface {
	SignTx(account types.Account, tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error)
}

// Options configures an EthereumLedger
type Options struct {
	ContractAddress types.Account
	ChainID         int64
	Provider        *RPCProvider
	Signer          TxSigner // nil for a read-only ledger
	Dial            DialFunc // defaults to DialEthclient
	Metrics         *metrics.Metrics
	Breaker         *circuitbreaker.Config // template; Name is set per endpoint
	ConfirmPoll     time.Duration
	ConfirmTimeout  time.Duration
}

// EthereumLedger talks to the registry contract over JSON-RPC
type EthereumLedger struct {
	contract       common.Address
	chainID        *big.Int
	provider       *RPCProvider
	signer         TxSigner
	dial           DialFunc
	metrics        *metrics.Metrics
	breakerConfig  circuitbreaker.Config
	confirmPoll    time.Duration
	confirmTimeout time.Duration

	mu       sync.Mutex
	backends map[string]Backend
	breakers map[string]*circuitbreaker.CircuitBreaker
}

var (
	_ Ledger      = (*EthereumLedger)(nil)
	_ StatsReader = (*EthereumLedger)(nil)
)

// NewEthereumLedger dials the provider's current endpoint and returns a ledger
// bound to the registry contract
func NewEthereumLedger(ctx context.Context, opts Options) (*EthereumLedger, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	contract, err := accountToCommon(opts.ContractAddress)
	if err != nil {
		return nil, fmt.Errorf("contract address: %w", err)
	}
	if opts.ChainID <= 0 {
		return nil, fmt.Errorf("chain id must be positive")
	}

	l := &EthereumLedger{
		contract:       contract,
		chainID:        big.NewInt(opts.ChainID),
		provider:       opts.Provider,
		signer:         opts.Signer,
		dial:           opts.Dial,
		metrics:        opts.Metrics,
		confirmPoll:    opts.ConfirmPoll,
		confirmTimeout: opts.ConfirmTimeout,
		backends:       make(map[string]Backend),
		breakers:       make(map[string]*circuitbreaker.CircuitBreaker),
	}
	if l.dial == nil {
		l.dial = DialEthclient
	}
	if l.confirmPoll <= 0 {
		l.confirmPoll = time.Second
	}
	if opts.Breaker != nil {
		l.breakerConfig = *opts.Breaker
	} else {
		l.breakerConfig = *circuitbreaker.DefaultConfig("")
	}
	l.breakerConfig.IsFailure = shouldFailover
	l.breakerConfig.OnStateChange = func(name string, _, to circuitbreaker.State) {
		l.metrics.SetBreakerOpen(name, to != circuitbreaker.StateClosed)
	}

	if _, _, err := l.current(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// current returns the backend and breaker for the active endpoint, dialing
// it on first use
func (l *EthereumLedger) current(ctx context.Context) (Backend, *circuitbreaker.CircuitBreaker, error) {
	name, url := l.provider.Current()

	l.mu.Lock()
	defer l.mu.Unlock()

	backend, ok := l.backends[name]
	if !ok {
		var err error
		backend, err = l.dial(ctx, url)
		if err != nil {
			return nil, nil, fmt.Errorf("dial %s endpoint: %w", name, err)
		}
		l.backends[name] = backend
	}

	breaker, ok := l.breakers[name]
	if !ok {
		cfg := l.breakerConfig
		cfg.Name = name
		breaker = circuitbreaker.NewCircuitBreaker(&cfg)
		l.breakers[name] = breaker
	}
	return backend, breaker, nil
}

// withFailover runs fn against the active endpoint and retries once on the
// other endpoint when the failure looks transport-related
func (l *EthereumLedger) withFailover(ctx context.Context, fn func(ctx context.Context, b Backend) error) error {
	err := l.attempt(ctx, fn)
	if err == nil || !(shouldFailover(err) || errors.Is(err, circuitbreaker.ErrCircuitOpen)) {
		return err
	}
	if ctx.Err() != nil {
		return err
	}

	from, _ := l.provider.Current()
	if failErr := l.provider.Failover(); failErr != nil {
		return err
	}
	to, _ := l.provider.Current()
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"from":  from,
		"to":    to,
		"cause": err.Error(),
	}).Warn("Failing over RPC endpoint")

	return l.attempt(ctx, fn)
}

func (l *EthereumLedger) attempt(ctx context.Context, fn func(ctx context.Context, b Backend) error) error {
	backend, breaker, err := l.current(ctx)
	if err != nil {
		l.provider.RecordFailure()
		return err
	}

	start := time.Now()
	err = breaker.Execute(ctx, func(ctx context.Context) error {
		return fn(ctx, backend)
	})
	if err != nil {
		l.provider.RecordFailure()
		return err
	}
	l.provider.RecordSuccess(time.Since(start))
	return nil
}

func (l *EthereumLedger) call(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	data, err := registryABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: pack: %w", method, err)
	}

	start := time.Now()
	var out []byte
	err = l.withFailover(ctx, func(ctx context.Context, b Backend) error {
		var callErr error
		out, callErr = b.CallContract(ctx, ethereum.CallMsg{To: &l.contract, Data: data}, nil)
		return callErr
	})
	l.metrics.ObserveLedgerRead(method, err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out, nil
}

// GetProfile calls getUser
func (l *EthereumLedger) GetProfile(ctx context.Context, account types.Account) (*ProfileRecord, error) {
	addr, err := accountToCommon(account)
	if err != nil {
		return nil, err
	}
	out, err := l.call(ctx, methodGetUser, addr)
	if err != nil {
		return nil, err
	}
	return decodeProfile(out)
}

// GetAsset calls getAsset
func (l *EthereumLedger) GetAsset(ctx context.Context, assetID uint64) (*AssetRecord, error) {
	out, err := l.call(ctx, methodGetAsset, new(big.Int).SetUint64(assetID))
	if err != nil {
		return nil, err
	}
	return decodeAsset(out)
}

// GetAssetIDsByOwner calls getAssetsByOwner
func (l *EthereumLedger) GetAssetIDsByOwner(ctx context.Context, account types.Account) ([]uint64, error) {
	addr, err := accountToCommon(account)
	if err != nil {
		return nil, err
	}
	out, err := l.call(ctx, methodGetAssetsByOwner, addr)
	if err != nil {
		return nil, err
	}
	return decodeAssetIDs(out)
}

// GetAssetHistory calls getAssetHistory
func (l *EthereumLedger) GetAssetHistory(ctx context.Context, assetID uint64) ([]HistoryEntry, error) {
	out, err := l.call(ctx, methodGetAssetHistory, new(big.Int).SetUint64(assetID))
	if err != nil {
		return nil, err
	}
	return decodeHistory(out)
}

// GetTotals calls getTotalUsers and getTotalAssets
func (l *EthereumLedger) GetTotals(ctx context.Context) (*types.Totals, error) {
	usersOut, err := l.call(ctx, methodGetTotalUsers)
	if err != nil {
		return nil, err
	}
	users, err := decodeCount(methodGetTotalUsers, usersOut)
	if err != nil {
		return nil, err
	}

	assetsOut, err := l.call(ctx, methodGetTotalAssets)
	if err != nil {
		return nil, err
	}
	assets, err := decodeCount(methodGetTotalAssets, assetsOut)
	if err != nil {
		return nil, err
	}

	return &types.Totals{Users: users, Assets: assets}, nil
}

// RegisterProfile sends registerUser
func (l *EthereumLedger) RegisterProfile(ctx context.Context, from types.Account, name, email string) (PendingTx, error) {
	return l.transact(ctx, from, methodRegisterUser, name, email)
}

// UpdateProfile sends updateProfile
func (l *EthereumLedger) UpdateProfile(ctx context.Context, from types.Account, name, email string) (PendingTx, error) {
	return l.transact(ctx, from, methodUpdateProfile, name, email)
}

// RegisterAsset sends registerAsset
func (l *EthereumLedger) RegisterAsset(ctx context.Context, from types.Account, name, description string) (PendingTx, error) {
	return l.transact(ctx, from, methodRegisterAsset, name, description)
}

// TransferAsset sends transferAsset
func (l *EthereumLedger) TransferAsset(ctx context.Context, from types.Account, assetID uint64, to types.Account) (PendingTx, error) {
	target, err := accountToCommon(to)
	if err != nil {
		return nil, apperrors.NewInvalidAddressError(string(to))
	}
	return l.transact(ctx, from, methodTransferAsset, new(big.Int).SetUint64(assetID), target)
}

// transact builds, signs and sends a legacy transaction from account. The
// nonce and the signature both use account, never whatever the signer has
// switched to since. Writes never fail over: a resend could double-submit.
func (l *EthereumLedger) transact(ctx context.Context, account types.Account, method string, args ...interface{}) (PendingTx, error) {
	if l.signer == nil {
		return nil, apperrors.NewUnsupportedError("writes on a read-only ledger")
	}
	from, err := accountToCommon(account)
	if err != nil {
		return nil, apperrors.NewNoSessionError()
	}

	data, err := registryABI.Pack(method, args...)
	if err != nil {
		return nil, apperrors.NewTransactionFailedError(method, "", err)
	}

	backend, _, err := l.current(ctx)
	if err != nil {
		return nil, apperrors.NewTransactionFailedError(method, "", err)
	}

	nonce, err := backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, apperrors.NewTransactionFailedError(method, "", fmt.Errorf("nonce: %w", err))
	}
	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, apperrors.NewTransactionFailedError(method, "", fmt.Errorf("gas price: %w", err))
	}
	gas, err := backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     from,
		To:       &l.contract,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		return nil, apperrors.NewTransactionFailedError(method, "", fmt.Errorf("estimate gas: %w", err))
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &l.contract,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := l.signer.SignTx(account, tx, l.chainID)
	if err != nil {
		if apperrors.IsUserError(err) {
			return nil, err
		}
		return nil, apperrors.NewTransactionFailedError(method, "", fmt.Errorf("sign: %w", err))
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		return nil, apperrors.NewTransactionFailedError(method, signed.Hash().Hex(), err)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"method": method,
		"txHash": signed.Hash().Hex(),
		"from":   from.Hex(),
		"nonce":  nonce,
	}).Info("Transaction submitted")

	return &pendingTx{
		method:  method,
		hash:    signed.Hash(),
		backend: backend,
		poll:    l.confirmPoll,
		timeout: l.confirmTimeout,
	}, nil
}

// Health reports endpoint statistics
func (l *EthereumLedger) Health() *ProviderHealth {
	return l.provider.GetHealth()
}

// Close closes every dialed endpoint
func (l *EthereumLedger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for name, b := range l.backends {
		b.Close()
		delete(l.backends, name)
	}
}
