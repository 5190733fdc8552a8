// Package identity manages the ephemeral participants a harness run drives
// the protocol with.
package identity

import (
	"context"
	"crypto/sha256"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/veilpay-labs/veilpay-harness/pkg/common"
	"github.com/veilpay-labs/veilpay-harness/pkg/veilpay"
)

// Labels for the three participants of a run, in flow order.
const (
	LabelA = "A"
	LabelB = "B"
	LabelC = "C"
)

// AllLabels is the fixed participant set, in flow order.
var AllLabels = []string{LabelA, LabelB, LabelC}

var viewKeyDomain = []byte("veilpay:view-key:v1")

// Identity is a single run participant: a funded signing account plus the
// view key its shielded notes are derived under.
type Identity struct {
	Label   string
	Owner   *common.Account
	ViewKey veilpay.ViewKey
}

// NewIdentity derives an identity from a signing account. The view key is a
// deterministic function of the private key, so restoring the account
// restores the same notes.
func NewIdentity(label string, owner *common.Account) (*Identity, error) {
	if owner.PrivateKey() == nil {
		return nil, errors.Errorf("identity %s requires a private key", label)
	}

	sig, err := owner.Sign(viewKeyDomain)
	if err != nil {
		return nil, errors.Wrap(err, "error deriving view key")
	}

	return &Identity{
		Label:   label,
		Owner:   owner,
		ViewKey: veilpay.ViewKey(sha256.Sum256(sig)),
	}, nil
}

// Manager generates and restores the participant set against a store, so a
// run can be resumed or inspected after the fact.
type Manager struct {
	log   *logrus.Entry
	store Store
}

func NewManager(store Store) *Manager {
	return &Manager{
		log:   logrus.StandardLogger().WithField("type", "harness/identity/manager"),
		store: store,
	}
}

// Generate creates a fresh identity for every label, overwriting any
// previously persisted set, and returns the new set in flow order.
func (m *Manager) Generate(ctx context.Context) ([]*Identity, error) {
	identities := make([]*Identity, 0, len(AllLabels))

	for _, label := range AllLabels {
		account, err := common.NewRandomAccount()
		if err != nil {
			return nil, errors.Wrap(err, "error generating account")
		}

		record := &Record{
			Label:      label,
			PrivateKey: account.PrivateKey().ToBase58(),
		}
		if err := m.store.Put(ctx, record); err != nil {
			return nil, errors.Wrapf(err, "error storing identity %s", label)
		}

		identity, err := NewIdentity(label, account)
		if err != nil {
			return nil, err
		}

		m.log.WithFields(logrus.Fields{
			"label": label,
			"owner": account.PublicKey().ToBase58(),
		}).Debug("generated identity")

		identities = append(identities, identity)
	}

	return identities, nil
}

// Restore loads previously generated identities. Labels without a stored
// record are skipped, so a partial set restores cleanly.
func (m *Manager) Restore(ctx context.Context) ([]*Identity, error) {
	var identities []*Identity
	for _, label := range AllLabels {
		identity, err := m.restoreOne(ctx, label)
		if err == ErrNotFound {
			continue
		} else if err != nil {
			return nil, err
		}

		identities = append(identities, identity)
	}

	return identities, nil
}

// Reset discards all stored identities.
func (m *Manager) Reset(ctx context.Context) error {
	return m.store.Reset(ctx)
}

func (m *Manager) restoreOne(ctx context.Context, label string) (*Identity, error) {
	record, err := m.store.Get(ctx, label)
	if err != nil {
		return nil, err
	}

	account, err := common.NewAccountFromPrivateKeyString(record.PrivateKey)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid stored key for identity %s", label)
	}

	return NewIdentity(label, account)
}
