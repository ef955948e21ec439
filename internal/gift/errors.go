package gift

import errorsmod "cosmossdk.io/errors"

// Codespace carried in ABCI results for every gift error.
const Codespace = "gift"

// Sentinel errors, one per rejection reason so callers can present the
// specific cause. Grouped by taxon: availability, validation, state,
// authorization, lifecycle.
var (
	ErrPaused = errorsmod.Register(Codespace, 1, "system paused")

	ErrZeroValue           = errorsmod.Register(Codespace, 2, "gift value must be positive")
	ErrNoEnvelopes         = errorsmod.Register(Codespace, 3, "must create at least one envelope")
	ErrTooManyEnvelopes    = errorsmod.Register(Codespace, 4, "envelope count above maximum")
	ErrValueBelowEnvelopes = errorsmod.Register(Codespace, 5, "gift value below envelope count")
	ErrExpirationPast      = errorsmod.Register(Codespace, 6, "expiration in past")
	ErrExpirationTooFar    = errorsmod.Register(Codespace, 7, "expiration too far in future")
	ErrMessageEmpty        = errorsmod.Register(Codespace, 8, "message must not be empty")
	ErrMessageTooLong      = errorsmod.Register(Codespace, 9, "message over length limit")
	ErrBadAuthKey          = errorsmod.Register(Codespace, 10, "auth public key must be 32 bytes")

	ErrSelfClaim      = errorsmod.Register(Codespace, 11, "owner cannot claim own gift")
	ErrExpired        = errorsmod.Register(Codespace, 12, "gift expired")
	ErrExhausted      = errorsmod.Register(Codespace, 13, "no envelopes remain")
	ErrAlreadyClaimed = errorsmod.Register(Codespace, 14, "address already claimed")
	ErrContention     = errorsmod.Register(Codespace, 15, "claim contention, resubmit")

	ErrInvalidSignature  = errorsmod.Register(Codespace, 16, "invalid signature")
	ErrInvalidCredential = errorsmod.Register(Codespace, 17, "invalid account credential")

	ErrNotReclaimable   = errorsmod.Register(Codespace, 18, "reclaim not permitted yet")
	ErrReclaimed        = errorsmod.Register(Codespace, 19, "gift already reclaimed")
	ErrBalanceRemaining = errorsmod.Register(Codespace, 20, "gift balance not zero")
)
