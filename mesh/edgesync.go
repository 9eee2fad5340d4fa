package mesh

import (
	"errors"

	"github.com/zhtp-network/zhtp-node/core"
)

var ErrBootstrapProofRejected = errors.New("mesh: bootstrap proof did not verify against the current chain summary")

// BlockHeaderSummary aliases core.BlockHeaderSummary so BlockchainProvider
// can be satisfied directly by *core.Ledger.
type BlockHeaderSummary = core.BlockHeaderSummary

// HeadersRequest asks a full node for headers starting just after
// FromHeight, up to Limit headers.
type HeadersRequest struct {
	FromHeight uint64
	Limit      uint32
}

// HeadersResponse is the reply to a HeadersRequest.
type HeadersResponse struct {
	Headers []BlockHeaderSummary
	TipHash core.Hash
}

// BootstrapProofRequest asks for a compact proof that a light client can
// trust a given tip without downloading full history, backed by the
// recursive-chain-proof kind of ProofVerifier.
type BootstrapProofRequest struct {
	KnownGenesis core.Hash
}

// BootstrapProofResponse carries the recursive proof plus the summary it
// attests to.
type BootstrapProofResponse struct {
	Summary core.ChainSummary
	Proof   core.Proof
}

// BlockchainProvider is the external collaborator a node's ledger
// satisfies so the edge-sync responder can serve light clients without
// the responder itself knowing about Ledger internals (spec.md §4.9).
type BlockchainProvider interface {
	Summary() core.ChainSummary
	HeadersFrom(fromHeight uint64, limit uint32) ([]BlockHeaderSummary, error)
}

// EdgeSyncResponder answers HeadersRequest and BootstrapProofRequest from
// mesh-connected light clients that cannot hold full chain state,
// grounded on the teacher's storage.go gateway-fallback pattern but
// generalized from content retrieval to chain-state retrieval.
type EdgeSyncResponder struct {
	Chain  BlockchainProvider
	Proofs core.ProofVerifier
}

// HandleHeaders serves a HeadersRequest.
func (e *EdgeSyncResponder) HandleHeaders(req HeadersRequest) (HeadersResponse, error) {
	headers, err := e.Chain.HeadersFrom(req.FromHeight, req.Limit)
	if err != nil {
		return HeadersResponse{}, err
	}
	return HeadersResponse{Headers: headers, TipHash: e.Chain.Summary().TipHash}, nil
}

// HandleBootstrap serves a BootstrapProofRequest by returning the current
// chain summary; building the actual recursive proof is the caller's
// ProofVerifier concern per spec.md §1 (proof generation, as opposed to
// verification, is out of scope for this package).
func (e *EdgeSyncResponder) HandleBootstrap(req BootstrapProofRequest, proof core.Proof) (BootstrapProofResponse, error) {
	summary := e.Chain.Summary()
	if !e.Proofs.VerifyRecursiveChainProof(summary, proof) {
		return BootstrapProofResponse{}, ErrBootstrapProofRejected
	}
	return BootstrapProofResponse{Summary: summary, Proof: proof}, nil
}
