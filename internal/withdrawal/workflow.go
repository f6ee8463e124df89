package withdrawal

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/kasa-exchange/kasa/internal/balance"
	"github.com/kasa-exchange/kasa/internal/broadcast"
	"github.com/kasa-exchange/kasa/internal/currency"
	"github.com/kasa-exchange/kasa/internal/signer"
)

const (
	// defaultFeeRate is the sat/vbyte rate used when no live fee source is
	// available.
	defaultFeeRate = 10

	// defaultGasPriceWei is 20 gwei, used when no gas oracle is configured.
	defaultGasPriceWei = 20_000_000_000
)

// Caster is the broadcast surface the workflow needs.
type Caster interface {
	Broadcast(ctx context.Context, cur currency.Currency, rawHex string) (string, error)
	Status(ctx context.Context, cur currency.Currency, txID string) broadcast.Status
}

// UTXOSource lists the hot wallet's spendable outputs.
type UTXOSource interface {
	ListUnspent(ctx context.Context, address string) ([]signer.UTXO, error)
}

// GasOracle supplies the current gas price in wei.
type GasOracle interface {
	GasPrice(ctx context.Context) (*big.Int, error)
}

// Workflow sequences an approved withdrawal through signing, broadcast and
// finalization, and runs the compensating unlock when either step fails.
// Each status transition is persisted before its side effect so a crash
// mid-flow leaves an inspectable status rather than silent loss.
type Workflow struct {
	store       Store
	signers     *signer.Signer
	broadcaster Caster
	cache       *balance.Cache
	logger      *slog.Logger

	utxos   UTXOSource
	gas     GasOracle
	nonces  *signer.NonceAllocator
	feeRate int64
}

// WorkflowOption configures optional chain-data sources.
type WorkflowOption func(*Workflow)

// WithUTXOSource wires the Bitcoin unspent-output lister.
func WithUTXOSource(src UTXOSource) WorkflowOption {
	return func(w *Workflow) { w.utxos = src }
}

// WithGasOracle wires a live gas price source.
func WithGasOracle(oracle GasOracle) WorkflowOption {
	return func(w *Workflow) { w.gas = oracle }
}

// WithFeeRate overrides the sat/vbyte fee rate for Bitcoin transactions.
func WithFeeRate(rate int64) WorkflowOption {
	return func(w *Workflow) {
		if rate > 0 {
			w.feeRate = rate
		}
	}
}

// NewWorkflow wires the withdrawal workflow. The nonce allocator serializes
// Ethereum nonce assignment across concurrent withdrawals.
func NewWorkflow(store Store, signers *signer.Signer, caster Caster, nonces *signer.NonceAllocator, cache *balance.Cache, logger *slog.Logger, opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		store:       store,
		signers:     signers,
		broadcaster: caster,
		nonces:      nonces,
		cache:       cache,
		logger:      logger,
		feeRate:     defaultFeeRate,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Process drives a PENDING withdrawal through signing and broadcast. A
// request over the approval threshold stays PENDING until an admin approves
// it; Approve re-enters here.
func (w *Workflow) Process(ctx context.Context, id string) (*Request, error) {
	req, err := w.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, ErrIllegalTransition{ID: id, From: req.Status, To: StatusApproved}
	}
	if req.RequiresAdminApproval && req.AdminApprovedAt == nil {
		w.logger.Info("withdrawal held for admin approval", "withdrawal_id", id, "user_id", req.UserID)
		return req, ErrAwaitingApproval
	}

	if err := w.store.UpdateStatus(ctx, id, StatusPending, StatusApproved); err != nil {
		return nil, err
	}
	if err := w.store.UpdateStatus(ctx, id, StatusApproved, StatusSigning); err != nil {
		return nil, err
	}

	signed, err := w.sign(ctx, req)
	if err != nil {
		return w.fail(ctx, req, fmt.Errorf("signing failed: %w", err))
	}
	if err := signer.ValidateSignature(req.Currency, signed.RawHex, signed.TxID); err != nil {
		return w.fail(ctx, req, fmt.Errorf("signature validation failed: %w", err))
	}

	if err := w.store.UpdateStatus(ctx, id, StatusSigning, StatusBroadcasting); err != nil {
		return nil, err
	}
	req.Status = StatusBroadcasting

	txHash, err := w.broadcaster.Broadcast(ctx, req.Currency, signed.RawHex)
	if err != nil {
		return w.fail(ctx, req, err)
	}
	if !strings.EqualFold(txHash, signed.TxID) {
		w.logger.Warn("network transaction id differs from locally computed id",
			"withdrawal_id", id, "local", signed.TxID, "network", txHash)
	}

	if err := w.store.SetBroadcast(ctx, id, txHash); err != nil {
		return nil, err
	}

	w.logger.Info("withdrawal broadcast",
		"withdrawal_id", id, "user_id", req.UserID, "currency", req.Currency,
		"tx_hash", txHash, "fee", signed.Fee)
	return w.store.GetByID(ctx, id)
}

// Approve records the admin sign-off and immediately resumes automatic
// processing.
func (w *Workflow) Approve(ctx context.Context, id, adminID string) (*Request, error) {
	if err := w.store.Approve(ctx, id, adminID); err != nil {
		return nil, err
	}
	w.logger.Info("withdrawal approved", "withdrawal_id", id, "admin_id", adminID)
	return w.Process(ctx, id)
}

// Finalize checks confirmation depth for a BROADCASTED withdrawal and, once
// the threshold is reached, removes the locked funds from the ledger. An
// unconfirmed withdrawal is returned unchanged with its current count.
func (w *Workflow) Finalize(ctx context.Context, id string) (*Request, error) {
	req, err := w.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusBroadcasted {
		return nil, ErrIllegalTransition{ID: id, From: req.Status, To: StatusCompleted}
	}

	st := w.broadcaster.Status(ctx, req.Currency, req.TransactionHash)
	req.Confirmations = st.Confirmations
	if !st.Confirmed {
		return req, nil
	}

	if err := w.store.Finalize(ctx, id, st.Confirmations); err != nil {
		return nil, err
	}
	w.invalidate(ctx, req.UserID, req.Currency)

	w.logger.Info("withdrawal completed",
		"withdrawal_id", id, "user_id", req.UserID, "currency", req.Currency,
		"confirmations", st.Confirmations)
	return w.store.GetByID(ctx, id)
}

func (w *Workflow) sign(ctx context.Context, req *Request) (signer.SignedTransaction, error) {
	sreq := signer.Request{
		Currency:    req.Currency,
		Network:     req.Network,
		Destination: req.Destination,
		Amount:      req.Amount,
	}

	switch req.Currency {
	case currency.BTC:
		btc := w.signers.Bitcoin()
		if btc == nil {
			return signer.SignedTransaction{}, fmt.Errorf("%w: BTC", signer.ErrNotConfigured)
		}
		if w.utxos == nil {
			return signer.SignedTransaction{}, fmt.Errorf("no UTXO source configured for BTC")
		}
		utxos, err := w.utxos.ListUnspent(ctx, btc.Address())
		if err != nil {
			return signer.SignedTransaction{}, fmt.Errorf("list hot wallet utxos: %w", err)
		}
		sreq.Bitcoin = &signer.BitcoinParams{UTXOs: utxos, FeeRate: w.feeRate}

	case currency.ETH, currency.USDT:
		if w.nonces == nil {
			return signer.SignedTransaction{}, fmt.Errorf("no nonce allocator configured")
		}
		nonce, err := w.nonces.Next(ctx)
		if err != nil {
			return signer.SignedTransaction{}, fmt.Errorf("allocate nonce: %w", err)
		}
		gasPrice := big.NewInt(defaultGasPriceWei)
		if w.gas != nil {
			if gasPrice, err = w.gas.GasPrice(ctx); err != nil {
				return signer.SignedTransaction{}, fmt.Errorf("fetch gas price: %w", err)
			}
		}
		sreq.Ethereum = &signer.EthereumParams{Nonce: nonce, GasPrice: gasPrice}
	}

	return w.signers.Sign(ctx, sreq)
}

// fail runs the compensating path: the request moves to FAILED and the
// locked funds return to the available balance in one transaction.
func (w *Workflow) fail(ctx context.Context, req *Request, cause error) (*Request, error) {
	w.logger.Error("withdrawal failed",
		"withdrawal_id", req.ID, "user_id", req.UserID, "currency", req.Currency, "error", cause)

	if req.Currency == currency.ETH || req.Currency == currency.USDT {
		if w.nonces != nil {
			// The allocated nonce may not have reached the chain; re-prime
			// before the next withdrawal.
			w.nonces.Reset()
		}
	}

	if err := w.store.MarkFailed(ctx, req.ID, cause.Error()); err != nil {
		return nil, fmt.Errorf("record failure for withdrawal %s: %w (cause: %v)", req.ID, err, cause)
	}
	w.invalidate(ctx, req.UserID, req.Currency)

	failed, err := w.store.GetByID(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return failed, cause
}

func (w *Workflow) invalidate(ctx context.Context, userID string, cur currency.Currency) {
	if w.cache == nil {
		return
	}
	w.cache.Invalidate(ctx, userID)
	if bal, err := w.cache.Balance(ctx, userID, cur); err == nil {
		w.cache.Publish(ctx, bal)
	}
}
