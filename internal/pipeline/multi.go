package pipeline

import (
	"context"

	"github.com/Veraticus/receipt-sentinel/internal/classification"
	"github.com/Veraticus/receipt-sentinel/internal/config"
	"github.com/Veraticus/receipt-sentinel/internal/model"
)

// Verify checks a receipt that may span several screenshots. A single image
// goes through VerifyImage unchanged. For several images each one is checked
// against the part minimum, ids are deduplicated, and the amounts of the
// images that pass are summed. Extraction stops once the sum reaches the
// expected total.
func (p *Pipeline) Verify(ctx context.Context, images []model.Image, expected float64, s config.Settings) (model.Outcome, error) {
	switch len(images) {
	case 0:
		out := model.NewOutcome(model.StatusImageLoadFailed)
		out.Transient = true
		out.Detail = "no images"
		return out, nil
	case 1:
		return p.VerifyImage(ctx, images[0], expected, s)
	}

	minimum := s.PartMinimumAmount
	if minimum <= 0 {
		minimum = config.DefaultPartMinimumAmount
	}

	var (
		seen     = make(map[string]bool)
		results  []result
		verified []int
		failure  = -1
		sum      float64
	)
	for _, img := range images {
		if len(verified) > 0 && sum >= expected-classification.AmountTolerance {
			break
		}
		res, err := p.verifyImage(ctx, img, expected, minimum, s, seen)
		if err != nil {
			return model.Outcome{}, err
		}
		if res.duplicate {
			p.logger.Debug("skipping duplicate id in multi-image receipt", "transaction_id", res.outcome.TransactionID)
			continue
		}
		results = append(results, res)
		idx := len(results) - 1

		switch res.outcome.Status {
		case model.StatusVerified, model.StatusAmountMismatch:
			verified = append(verified, idx)
			sum += res.outcome.FoundAmount
		default:
			if failure < 0 || outranks(res.outcome.Status, results[failure].outcome.Status) {
				failure = idx
			}
		}
	}

	var out model.Outcome
	if len(verified) == 0 {
		out = results[failure].outcome
	} else {
		out = aggregate(results, verified, sum, expected)
		for _, i := range verified {
			results[i].record.Status = out.Status
			results[i].counted = out.Status
		}
	}
	out.Parts = make([]model.Outcome, 0, len(results))
	for _, r := range results {
		out.Parts = append(out.Parts, r.outcome)
	}

	for _, r := range results {
		if err := p.persist(ctx, r); err != nil {
			return model.Outcome{}, err
		}
	}
	p.logOutcome(out)
	return out, nil
}

// outranks reports whether a later failure should replace the first one.
// Capacity and service errors explain a missing id better than Random does.
func outranks(candidate, current model.Status) bool {
	if current != model.StatusRandom {
		return false
	}
	return candidate == model.StatusRateLimited || candidate == model.StatusAIError
}

func aggregate(results []result, verified []int, sum, expected float64) model.Outcome {
	first := results[verified[0]].outcome
	out := model.Outcome{
		Status:         model.StatusVerified,
		TransactionID:  first.TransactionID,
		Bank:           first.Bank,
		AgeLabel:       first.AgeLabel,
		RecipientName:  first.RecipientName,
		SenderName:     first.SenderName,
		SenderPhone:    first.SenderPhone,
		BankDate:       first.BankDate,
		IsReason:       first.IsReason,
		FoundAmount:    sum,
		ExpectedAmount: expected,
		NameOK:         true,
		TimeOK:         true,
		AmountOK:       amountsMatch(sum, expected),
	}
	for _, i := range verified {
		out.TransactionIDs = append(out.TransactionIDs, results[i].outcome.TransactionID)
	}
	if !out.AmountOK {
		out.Status = model.StatusAmountMismatch
	}
	out.Finalize()
	return out
}
