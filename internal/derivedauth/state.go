package derivedauth

import (
	"errors"
	"fmt"
)

// State is a step of the derived key handshake.
type State string

const (
	StateIdle                          State = "Idle"
	StateAwaitingProviderRedirect      State = "AwaitingProviderRedirect"
	StateProviderApproved              State = "ProviderApproved"
	StateFundingCheck                  State = "FundingCheck"
	StateOnChainAuthorizationSubmitted State = "OnChainAuthorizationSubmitted"
	StateDerivationConfirmed           State = "DerivationConfirmed"
	StateFailed                        State = "Failed"
)

func (s State) Terminal() bool {
	return s == StateDerivationConfirmed || s == StateFailed
}

// FailureReason qualifies StateFailed.
type FailureReason string

const (
	ReasonNone                 FailureReason = ""
	ReasonAccountMismatch      FailureReason = "AccountMismatch"
	ReasonAuthenticationFailed FailureReason = "AuthenticationFailed"
)

var (
	ErrAccountMismatch      = errors.New("authorized account does not match the expected public key")
	ErrAuthenticationFailed = errors.New("derived key authentication failed")
	ErrProviderCancelled    = errors.New("identity provider authorization cancelled")
	ErrMalformedRedirect    = errors.New("identity provider redirect is malformed")
	ErrDerivedKeyNotValid   = errors.New("derived key is not valid on chain")
	ErrNotDerived           = errors.New("identity is not derived")
	ErrFlowBusy             = errors.New("derived key flow already running")
)

// RevocationError is the outcome of a failed best-effort revoke. Logout logs
// it and carries on.
type RevocationError struct {
	PublicKey string
	Stage     string
	Err       error
}

func (e *RevocationError) Error() string {
	return fmt.Sprintf("revoke derived key (%s): %v", e.Stage, e.Err)
}

func (e *RevocationError) Unwrap() error { return e.Err }
