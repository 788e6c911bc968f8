package ledger

import "errors"

var (
	// ErrNotFound means the contract holds no record for the requested id.
	ErrNotFound = errors.New("ledger: certificate not found")

	// ErrContractRejected is a business-rule rejection on-chain, such as a
	// duplicate certificate id. Retrying with the same arguments will fail
	// again.
	ErrContractRejected = errors.New("ledger: contract rejected transaction")

	// ErrConnectivity means the chain could not be reached or the call did
	// not complete. The operation may be retried.
	ErrConnectivity = errors.New("ledger: connectivity failure")

	// ErrValidation means the caller supplied arguments the client refuses
	// to submit, such as an empty id or a malformed digest.
	ErrValidation = errors.New("ledger: invalid argument")
)
