package broadcast

import (
	"errors"

	kit "dailycast/internal/transport"
)

// Classify maps the error of one send into an Outcome.
func Classify(err error) Outcome {
	if err == nil {
		return Outcome{Kind: Delivered}
	}
	var te *kit.ThrottleError
	if errors.As(err, &te) {
		return Outcome{Kind: TransientFailure, RetryAfter: te.RetryAfter, Err: err}
	}
	if errors.Is(err, kit.ErrRecipientGone) {
		return Outcome{Kind: RecipientGone, Err: err}
	}
	return Outcome{Kind: TransientFailure, Err: err}
}
