package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcclellann/carloan/pkg/amortization"
	"github.com/mcclellann/carloan/pkg/rates"
)

const estimateKeyPrefix = "estimate:"

// Estimate runs a quick, unpersisted amortization preview. Results are kept
// in the configured cache keyed by the normalized input; cache failures are
// logged and the estimate is computed anyway.
func (l *Ledger) Estimate(ctx context.Context, in amortization.EstimateInput) (amortization.EstimateResult, error) {
	in.Compounding = rates.ParseCompounding(string(in.Compounding))

	raw, err := json.Marshal(in)
	if err != nil {
		return amortization.EstimateResult{}, fmt.Errorf("failed to encode estimate input: %w", err)
	}
	key := estimateKeyPrefix + string(raw)

	if l.cache != nil {
		cached, ok, err := l.cache.Get(ctx, key)
		if err != nil {
			l.log.Warn().Err(err).Msg("Estimate cache read failed")
		} else if ok {
			var result amortization.EstimateResult
			if err := json.Unmarshal([]byte(cached), &result); err == nil {
				return result, nil
			}
			l.log.Warn().Str("key", key).Msg("Discarding undecodable cached estimate")
		}
	}

	result, err := amortization.Estimate(in)
	if err != nil {
		return amortization.EstimateResult{}, err
	}

	if l.cache != nil {
		encoded, err := json.Marshal(result)
		if err == nil {
			err = l.cache.Set(ctx, key, string(encoded), l.cacheTTL)
		}
		if err != nil {
			l.log.Warn().Err(err).Msg("Estimate cache write failed")
		}
	}
	return result, nil
}
