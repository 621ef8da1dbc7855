package letter

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound covers absent and soft-deleted letters alike.
	ErrNotFound = errors.New("letter not found")

	// ErrForbidden is the uniform authorization denial. The specific branch
	// that denied is logged, never returned, so callers cannot enumerate
	// letter metadata by probing.
	ErrForbidden = errors.New("only the recipient may open this letter")

	// ErrInvalidRecipient marks a recipient record with neither a linked
	// user nor an email. A data-integrity fault, not a permission fault;
	// the API presents it identically to ErrForbidden.
	ErrInvalidRecipient = errors.New("recipient resolves to no identity")

	// ErrNotEligible covers expired and otherwise non-openable states.
	ErrNotEligible = errors.New("letter is not eligible to open")

	ErrNotYetUnlocked = errors.New("letter is not unlocked yet")

	// ErrNotApplied is returned by Store.Open when the conditional update
	// matched no row, i.e. the open precondition no longer held at write
	// time. The service re-reads and resolves the real outcome.
	ErrNotApplied = errors.New("open transition not applied")
)
