// Package validator judges free-form challenge answers.
package validator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/louisbranch/questparty/internal/platform/timeouts"
	"github.com/louisbranch/questparty/internal/services/party/domain"
)

// GenericFailureFeedback is shown when no verdict could be obtained.
const GenericFailureFeedback = "We couldn't check that answer right now. It doesn't count this time, try another challenge."

// Validator evaluates an answer against a challenge's criteria.
type Validator interface {
	Evaluate(ctx context.Context, criteria, answer, role string) (domain.ChallengeOutcome, error)
}

// Func adapts a function to Validator.
type Func func(ctx context.Context, criteria, answer, role string) (domain.ChallengeOutcome, error)

// Evaluate calls f.
func (f Func) Evaluate(ctx context.Context, criteria, answer, role string) (domain.ChallengeOutcome, error) {
	return f(ctx, criteria, answer, role)
}

type fallback struct {
	next    Validator
	timeout time.Duration
}

// WithFallback bounds v by timeout and turns every failure into an
// incorrect outcome carrying GenericFailureFeedback. The returned validator
// never returns an error.
func WithFallback(v Validator, timeout time.Duration) Validator {
	if timeout <= 0 {
		timeout = timeouts.Validator
	}
	return &fallback{next: v, timeout: timeout}
}

type verdict struct {
	outcome domain.ChallengeOutcome
	err     error
}

func (f *fallback) Evaluate(ctx context.Context, criteria, answer, role string) (domain.ChallengeOutcome, error) {
	if f.next == nil {
		return failed(), nil
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	// Buffered so a validator that ignores ctx can still finish and exit.
	done := make(chan verdict, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- verdict{err: fmt.Errorf("validator panic: %v", r)}
			}
		}()
		outcome, err := f.next.Evaluate(ctx, criteria, answer, role)
		done <- verdict{outcome: outcome, err: err}
	}()

	select {
	case v := <-done:
		if v.err != nil {
			log.Printf("validator: evaluation failed, answer marked incorrect: %v", v.err)
			return failed(), nil
		}
		return v.outcome, nil
	case <-ctx.Done():
		log.Printf("validator: no verdict before deadline, answer marked incorrect: %v", ctx.Err())
		return failed(), nil
	}
}

func failed() domain.ChallengeOutcome {
	return domain.ChallengeOutcome{IsCorrect: false, Feedback: GenericFailureFeedback}
}
