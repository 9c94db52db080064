package httpapi

import (
	"context"
	"errors"
)

// ErrVerificationStubbed is returned alongside a false verdict by
// StubVerificationBoundary, documenting that no real identity check has
// run (spec.md §9 Open Question: "is_verified" must never be set to true
// by guessing or by trusting an unauthenticated client-supplied header).
var ErrVerificationStubbed = errors.New(`verification boundary stubbed: no real check performed`)

// VerificationBoundary decides whether userID is an externally confirmed
// identity, for the `is_verified` field threaded into orchestrator.SubmitInput
// and ultimately into the leaderboard's upsert_leaderboard call. The
// ingress API never trusts a client-supplied header for this value.
type VerificationBoundary interface {
	Verify(ctx context.Context, userID string) (bool, error)
}

// StubVerificationBoundary always reports an unverified identity.
//
// TODO: replace with a real lookup against the external identity provider
// named in spec.md's clanker-verification Open Question once that
// integration exists; until then every submission is is_verified=false.
type StubVerificationBoundary struct{}

func (StubVerificationBoundary) Verify(context.Context, string) (bool, error) {
	return false, ErrVerificationStubbed
}
