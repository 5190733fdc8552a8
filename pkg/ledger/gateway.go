// Package ledger wraps the low-level RPC client with the submission and
// balance primitives the harness drives flows through. Every submission is
// confirmed before its signature is handed back, so callers can treat a
// returned signature as a committed state transition.
package ledger

import (
	"context"
	"crypto/ed25519"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/veilpay-labs/veilpay-harness/pkg/cache"
	"github.com/veilpay-labs/veilpay-harness/pkg/common"
	"github.com/veilpay-labs/veilpay-harness/pkg/solana"
	"github.com/veilpay-labs/veilpay-harness/pkg/solana/token"
)

const (
	// lamportsPerSignature is the default fee per transaction signature.
	lamportsPerSignature = 5_000

	ataCacheSize = 256
)

var (
	// ErrSubmissionFailed indicates a transaction was rejected at
	// submission, before reaching a block.
	ErrSubmissionFailed = errors.New("transaction submission failed")

	// ErrConfirmationFailed indicates a submitted transaction did not reach
	// the required commitment, or failed on-chain.
	ErrConfirmationFailed = errors.New("transaction confirmation failed")

	// ErrNoPrivateKey indicates a required signer has no private key
	// available.
	ErrNoPrivateKey = errors.New("signer has no private key")
)

// Gateway is the harness's sole path to the chain.
type Gateway interface {
	// SubmitAndConfirm compiles the instructions into a transaction paid
	// for and signed by payer (plus any additional signers), submits it,
	// and blocks until it is confirmed. The confirmed signature is
	// returned in base58.
	SubmitAndConfirm(ctx context.Context, payer *common.Account, signers []*common.Account, instructions ...solana.Instruction) (string, error)

	// GetTokenBalance returns the owner's associated token account balance
	// for the mint, in base units. A missing account reads as zero.
	GetTokenBalance(ctx context.Context, owner, mint *common.Account) (uint64, error)

	// GetNativeBalance returns the owner's lamport balance. A missing
	// account reads as zero.
	GetNativeBalance(ctx context.Context, owner *common.Account) (uint64, error)

	// EnsureTokenAccount creates the owner's associated token account for
	// the mint if it doesn't already exist. It is safe to call repeatedly.
	EnsureTokenAccount(ctx context.Context, payer, owner, mint *common.Account) (*common.Account, error)

	// HasTokenAccount reports whether the owner's associated token account
	// for the mint exists on chain.
	HasTokenAccount(ctx context.Context, owner, mint *common.Account) (bool, error)

	// RequestAirdrop credits the owner with lamports on test clusters and
	// waits for the credit to confirm.
	RequestAirdrop(ctx context.Context, owner *common.Account, lamports uint64) (string, error)

	// GetTransactionMeta fetches confirmed transaction detail for a
	// previously returned signature.
	GetTransactionMeta(ctx context.Context, signature string) (*solana.TransactionMeta, error)

	// EstimatedFee returns the expected fee for a single-signer
	// transaction, in lamports.
	EstimatedFee() uint64
}

type gateway struct {
	log    *logrus.Entry
	client solana.Client

	// Derived associated token addresses, keyed by owner and mint. The
	// derivation is a PDA grind, so repeated balance polls shouldn't pay
	// for it.
	ataCache *cache.Cache
}

// NewGateway returns a Gateway backed by the provided RPC client.
func NewGateway(client solana.Client) Gateway {
	return &gateway{
		log:      logrus.StandardLogger().WithField("type", "ledger/gateway"),
		client:   client,
		ataCache: cache.New(ataCacheSize),
	}
}

func (g *gateway) getAssociatedTokenAccount(owner, mint *common.Account) (*common.Account, error) {
	cacheKey := owner.PublicKey().ToBase58() + ":" + mint.PublicKey().ToBase58()
	if cached, ok := g.ataCache.Get(cacheKey); ok {
		return cached.(*common.Account), nil
	}

	derived, err := owner.ToAssociatedTokenAccount(mint)
	if err != nil {
		return nil, err
	}

	g.ataCache.Put(cacheKey, derived)

	return derived, nil
}

func (g *gateway) SubmitAndConfirm(ctx context.Context, payer *common.Account, signers []*common.Account, instructions ...solana.Instruction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	blockhash, err := g.client.GetLatestBlockhash()
	if err != nil {
		return "", errors.Wrap(err, "error getting latest blockhash")
	}

	txn := solana.NewTransaction(payer.PublicKey().ToBytes(), instructions...)
	txn.SetBlockhash(blockhash)

	privateKeys, err := collectPrivateKeys(payer, signers)
	if err != nil {
		return "", err
	}
	if err := txn.Sign(privateKeys...); err != nil {
		return "", errors.Wrap(err, "error signing transaction")
	}

	sig, err := g.client.SubmitTransaction(txn, solana.CommitmentConfirmed)
	if err != nil {
		return "", errors.Wrapf(ErrSubmissionFailed, "%s", err.Error())
	}

	log := g.log.WithField("signature", sig.ToBase58())

	status, err := g.client.GetSignatureStatus(sig, solana.CommitmentConfirmed)
	if err != nil {
		log.WithError(err).Info("transaction failed to confirm")
		return "", errors.Wrapf(ErrConfirmationFailed, "%s", err.Error())
	}
	if status != nil && status.ErrorResult != nil {
		log.WithError(status.ErrorResult).Info("transaction failed on chain")
		return "", errors.Wrapf(ErrConfirmationFailed, "%s", status.ErrorResult.Error())
	}

	log.Debug("transaction confirmed")

	return sig.ToBase58(), nil
}

func (g *gateway) GetTokenBalance(ctx context.Context, owner, mint *common.Account) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ata, err := g.getAssociatedTokenAccount(owner, mint)
	if err != nil {
		return 0, err
	}

	balance, err := g.client.GetTokenAccountBalance(ata.PublicKey().ToBytes())
	if err == solana.ErrNoBalance || err == solana.ErrNoAccountInfo {
		return 0, nil
	} else if err != nil {
		return 0, errors.Wrap(err, "error getting token account balance")
	}

	return balance, nil
}

func (g *gateway) GetNativeBalance(ctx context.Context, owner *common.Account) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	balance, err := g.client.GetBalance(owner.PublicKey().ToBytes())
	if err == solana.ErrNoBalance {
		return 0, nil
	} else if err != nil {
		return 0, errors.Wrap(err, "error getting balance")
	}

	return balance, nil
}

func (g *gateway) EnsureTokenAccount(ctx context.Context, payer, owner, mint *common.Account) (*common.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ata, err := g.getAssociatedTokenAccount(owner, mint)
	if err != nil {
		return nil, err
	}

	_, err = g.client.GetAccountInfo(ata.PublicKey().ToBytes(), solana.CommitmentConfirmed)
	if err == nil {
		return ata, nil
	} else if err != solana.ErrNoAccountInfo {
		return nil, errors.Wrap(err, "error getting token account info")
	}

	instruction, _, err := token.CreateAssociatedTokenAccount(
		payer.PublicKey().ToBytes(),
		owner.PublicKey().ToBytes(),
		mint.PublicKey().ToBytes(),
	)
	if err != nil {
		return nil, err
	}

	if _, err := g.SubmitAndConfirm(ctx, payer, nil, instruction); err != nil {
		return nil, errors.Wrap(err, "error creating token account")
	}

	return ata, nil
}

func (g *gateway) HasTokenAccount(ctx context.Context, owner, mint *common.Account) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	ata, err := g.getAssociatedTokenAccount(owner, mint)
	if err != nil {
		return false, err
	}

	_, err = g.client.GetAccountInfo(ata.PublicKey().ToBytes(), solana.CommitmentConfirmed)
	if err == solana.ErrNoAccountInfo {
		return false, nil
	} else if err != nil {
		return false, errors.Wrap(err, "error getting token account info")
	}

	return true, nil
}

func (g *gateway) RequestAirdrop(ctx context.Context, owner *common.Account, lamports uint64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sig, err := g.client.RequestAirdrop(owner.PublicKey().ToBytes(), lamports, solana.CommitmentConfirmed)
	if err != nil {
		return "", errors.Wrap(err, "error requesting airdrop")
	}

	status, err := g.client.GetSignatureStatus(sig, solana.CommitmentConfirmed)
	if err != nil {
		return "", errors.Wrapf(ErrConfirmationFailed, "%s", err.Error())
	}
	if status != nil && status.ErrorResult != nil {
		return "", errors.Wrapf(ErrConfirmationFailed, "%s", status.ErrorResult.Error())
	}

	return sig.ToBase58(), nil
}

func (g *gateway) GetTransactionMeta(ctx context.Context, signature string) (*solana.TransactionMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sig, err := solana.NewSignatureFromString(signature)
	if err != nil {
		return nil, err
	}

	return g.client.GetTransactionMeta(sig)
}

func (g *gateway) EstimatedFee() uint64 {
	return lamportsPerSignature
}

func collectPrivateKeys(payer *common.Account, signers []*common.Account) ([]ed25519.PrivateKey, error) {
	accounts := append([]*common.Account{payer}, signers...)

	var keys []ed25519.PrivateKey
	seen := make(map[string]struct{})
	for _, account := range accounts {
		if account == nil {
			continue
		}
		if _, ok := seen[account.PublicKey().ToBase58()]; ok {
			continue
		}
		seen[account.PublicKey().ToBase58()] = struct{}{}

		if account.PrivateKey() == nil {
			return nil, errors.Wrapf(ErrNoPrivateKey, "account %s", account.PublicKey().ToBase58())
		}
		keys = append(keys, account.PrivateKey().ToBytes())
	}

	return keys, nil
}
