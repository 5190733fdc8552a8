package recorder

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/veilpay-labs/veilpay-harness/pkg/ledger"
	"github.com/veilpay-labs/veilpay-harness/pkg/pointer"
	"github.com/veilpay-labs/veilpay-harness/pkg/retry"
)

const enrichmentBatchSize = 32

// Recorder writes the transaction history of a run, and runs a background
// worker filling in confirmed chain detail. Enrichment is best effort: a
// record that can't be enriched stays in the submitted state and the run is
// unaffected.
type Recorder struct {
	log     *logrus.Entry
	store   Store
	gateway ledger.Gateway
}

func New(store Store, gateway ledger.Gateway) *Recorder {
	return &Recorder{
		log:     logrus.StandardLogger().WithField("type", "harness/recorder"),
		store:   store,
		gateway: gateway,
	}
}

// RecordSubmission captures a confirmed submission for a step.
func (r *Recorder) RecordSubmission(ctx context.Context, step, signature string) error {
	return r.store.Put(ctx, &Record{
		ID:        uuid.New(),
		Step:      step,
		Signature: pointer.String(signature),
		Status:    StatusSubmitted,
	})
}

// RecordRelayedSubmission captures a confirmed submission made on the
// identity's behalf by a relayer.
func (r *Recorder) RecordRelayedSubmission(ctx context.Context, step, signature string) error {
	return r.store.Put(ctx, &Record{
		ID:        uuid.New(),
		Step:      step,
		Signature: pointer.String(signature),
		Status:    StatusSubmitted,
		Relayer:   true,
	})
}

// RecordFailure captures a failed submission for a step.
func (r *Recorder) RecordFailure(ctx context.Context, step, reason string) error {
	return r.store.Put(ctx, &Record{
		ID:            uuid.New(),
		Step:          step,
		Status:        StatusFailed,
		FailureReason: pointer.String(reason),
	})
}

// History returns every captured record, ordered by creation time.
func (r *Recorder) History(ctx context.Context) ([]*Record, error) {
	return r.store.GetAll(ctx)
}

// Reset discards all captured records.
func (r *Recorder) Reset(ctx context.Context) error {
	return r.store.Reset(ctx)
}

// Start runs the enrichment worker until the context is cancelled.
func (r *Recorder) Start(ctx context.Context, interval time.Duration) error {
	return retry.Loop(
		func() (err error) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}

			items, err := r.store.GetPendingEnrichment(ctx, enrichmentBatchSize)
			if err != nil {
				r.log.WithError(err).Warn("failed to get records pending enrichment")
				return nil
			}

			for _, item := range items {
				r.enrich(ctx, item)
			}

			return nil
		},
		retry.NonRetriableErrors(context.Canceled),
	)
}

func (r *Recorder) enrich(ctx context.Context, record *Record) {
	log := r.log.WithField("signature", *record.Signature)

	meta, err := r.gateway.GetTransactionMeta(ctx, *record.Signature)
	if err != nil {
		log.WithError(err).Debug("transaction detail not yet available")
		return
	}

	record.Slot = pointer.Uint64(meta.Slot)
	record.Fee = pointer.Uint64(meta.Fee)
	record.BlockTime = pointer.TimeCopy(meta.BlockTime)
	record.Status = StatusEnriched
	if meta.Err != nil {
		record.Status = StatusFailed
		record.FailureReason = pointer.String(meta.Err.Error())
	}

	if err := r.store.Update(ctx, record); err != nil {
		log.WithError(err).Warn("failed to update record")
	}
}
