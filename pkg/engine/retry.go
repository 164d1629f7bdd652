package engine

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tundrachat/tundra/pkg/chat"
)

// DecryptBatch decorates every record with plaintext or a per-record failure
// tag. When any record fails for lack of an access-group key, the group set
// is refreshed once through src and the whole batch re-run against the fresh
// set: a stale set usually affects many records of the same thread, so
// per-record refreshes would hammer the node for no benefit. The second pass
// is final; records still lacking keys keep the missing-key tag. Returns the
// decorated batch and the access-group set that produced it.
func DecryptBatch(ctx context.Context, dec Decryptor, src GroupSource, owner string, groups []chat.AccessGroupEntry, msgs []chat.Message, workers int) ([]chat.Message, []chat.AccessGroupEntry, error) {
	log := zerolog.Ctx(ctx)
	out, missing, err := decryptPass(ctx, dec, groups, owner, msgs, workers)
	if err != nil {
		return nil, groups, err
	}
	if missing == 0 {
		return out, groups, nil
	}

	fresh, err := src.FetchAll(ctx, owner)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, groups, ctxErr
		}
		// Refresh is best effort: the first pass already tagged the affected
		// records, so the batch stays usable.
		log.Warn().Err(err).
			Int("missing_key_records", missing).
			Msg("Access group refresh failed, keeping first-pass results")
		return out, groups, nil
	}
	log.Debug().
		Int("missing_key_records", missing).
		Int("access_groups", len(fresh)).
		Msg("Re-running batch decryption with refreshed access groups")

	out, missing, err = decryptPass(ctx, dec, fresh, owner, msgs, workers)
	if err != nil {
		return nil, fresh, err
	}
	if missing > 0 {
		log.Debug().Int("still_missing", missing).
			Msg("Records still lack access group keys after refresh")
	}
	return out, fresh, nil
}

// decryptPass runs one bounded-concurrency pass over the batch. Decryption
// failures never abort the pass; they are recorded on the affected record.
// Only context cancellation aborts.
func decryptPass(ctx context.Context, dec Decryptor, groups []chat.AccessGroupEntry, owner string, msgs []chat.Message, workers int) ([]chat.Message, int, error) {
	if workers < 1 {
		workers = 1
	}
	out := make([]chat.Message, len(msgs))
	errs := make([]error, len(msgs))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, msg := range msgs {
		i, msg := i, msg
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			decorated := msg
			decorated.IsSender = msg.SenderInfo.OwnerPublicKey == owner
			plaintext, err := dec.Decrypt(egCtx, msg, groups)
			if err != nil {
				errs[i] = err
				decorated.Plaintext = ""
				decorated.DecryptionError = chat.DecryptionErrorTag(err)
			} else {
				decorated.Plaintext = plaintext
				decorated.DecryptionError = ""
			}
			out[i] = decorated
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, 0, err
	}

	missing := 0
	for _, err := range errs {
		if errors.Is(err, chat.ErrMissingAccessGroupKey) {
			missing++
		}
	}
	return out, missing, nil
}
