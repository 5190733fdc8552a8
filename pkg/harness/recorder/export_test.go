package recorder

import "context"

const EnrichmentBatchSize = enrichmentBatchSize

func (r *Recorder) Enrich(ctx context.Context, record *Record) {
	r.enrich(ctx, record)
}
