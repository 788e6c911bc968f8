// Package anchor orchestrates issuance-time anchoring and
// verification-time lookup: it binds the hash engine to the ledger
// client so call sites never pass a digest across trust boundaries
// when the artifact itself is available.
package anchor

import (
	"context"
	"fmt"

	"github.com/certrail/certrail/internal/hashing"
	"github.com/certrail/certrail/internal/ledger"
	"github.com/certrail/certrail/pkg/observability"
)

// Result is what an anchoring run produces: the digest that was written
// and the receipt proving it landed.
type Result struct {
	CertID  string            `json:"cert_id"`
	Hash    string            `json:"hash"`
	Receipt *ledger.TxReceipt `json:"receipt"`
}

// Verification is the answer to a verification query. Metadata fields
// are populated only when the certificate verified, so a negative
// answer leaks nothing.
type Verification struct {
	Valid bool   `json:"valid"`
	Name  string `json:"name,omitempty"`
	Event string `json:"event,omitempty"`
	Date  string `json:"date,omitempty"`
	Hash  string `json:"hash,omitempty"`
}

type Service struct {
	chain  ledger.Anchorer
	logger *observability.Logger
}

func NewService(chain ledger.Anchorer, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Service{chain: chain, logger: logger}
}

// AnchorFile hashes the artifact at path and stores the anchor on-chain.
// An un-anchored certificate must never be treated as anchored, so every
// failure propagates as an error.
func (s *Service) AnchorFile(ctx context.Context, certID, path, name, event, date string) (*Result, error) {
	if certID == "" {
		return nil, fmt.Errorf("%w: empty certificate id", ledger.ErrValidation)
	}

	hash, err := hashing.DigestFile(path)
	if err != nil {
		return nil, fmt.Errorf("digest %s: %w", path, err)
	}

	receipt, err := s.chain.Store(ctx, certID, hash, name, event, date)
	if err != nil {
		return nil, fmt.Errorf("anchor %s: %w", certID, err)
	}

	s.logger.Info("certificate anchored",
		"cert_id", certID,
		"hash", hashing.Prefixed(hash),
		"tx_hash", receipt.TxHash,
		"block", receipt.BlockNumber,
	)
	return &Result{CertID: certID, Hash: hash, Receipt: receipt}, nil
}

// VerifyFile recomputes the digest from a freshly supplied artifact and
// checks it against the chain. The caller's own claim about the hash is
// never consulted.
func (s *Service) VerifyFile(ctx context.Context, certID, path string) (*Verification, error) {
	hash, err := hashing.DigestFile(path)
	if err != nil {
		return nil, fmt.Errorf("digest %s: %w", path, err)
	}
	return s.VerifyHash(ctx, certID, hash)
}

// VerifyHash is the pure-lookup mode: it trusts the supplied digest and
// asks the contract for a boolean. "Not valid" is an expected outcome,
// not an error.
func (s *Service) VerifyHash(ctx context.Context, certID, hash string) (*Verification, error) {
	valid, err := s.chain.Verify(ctx, certID, hash)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", certID, err)
	}
	if !valid {
		return &Verification{Valid: false}, nil
	}

	rec, err := s.chain.FetchDetails(ctx, certID)
	if err != nil {
		// Verified but details unavailable: still a positive answer.
		s.logger.Warn("verified certificate has unreadable details", "cert_id", certID, "error", err)
		return &Verification{Valid: true, Hash: hashing.Prefixed(hash)}, nil
	}
	return &Verification{
		Valid: true,
		Name:  rec.Name,
		Event: rec.Event,
		Date:  rec.Date,
		Hash:  rec.Hash,
	}, nil
}

// Lookup returns the full on-chain record for certID.
func (s *Service) Lookup(ctx context.Context, certID string) (*ledger.Record, error) {
	return s.chain.FetchDetails(ctx, certID)
}
