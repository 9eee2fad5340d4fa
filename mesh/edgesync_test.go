package mesh

import (
	"errors"
	"testing"

	"github.com/zhtp-network/zhtp-node/core"
)

// fakeChain is a minimal BlockchainProvider backing EdgeSyncResponder tests
// without constructing a full core.Ledger.
type fakeChain struct {
	summary core.ChainSummary
	headers []BlockHeaderSummary
	err     error
}

func (f *fakeChain) Summary() core.ChainSummary { return f.summary }
func (f *fakeChain) HeadersFrom(fromHeight uint64, limit uint32) ([]BlockHeaderSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.headers, nil
}

type alwaysVerifyProofs struct{ accept bool }

func (a alwaysVerifyProofs) VerifyRangeProof(core.Hash, core.Proof) bool { return a.accept }
func (a alwaysVerifyProofs) VerifyOwnershipProof(core.TransactionOutput, core.Proof) bool {
	return a.accept
}
func (a alwaysVerifyProofs) VerifyNullifierProof(core.Hash, core.TransactionOutput, core.Proof) bool {
	return a.accept
}
func (a alwaysVerifyProofs) VerifyIdentityProof(string, core.Proof) bool { return a.accept }
func (a alwaysVerifyProofs) VerifyStorageProof(string, uint64, core.Proof) bool {
	return a.accept
}
func (a alwaysVerifyProofs) VerifyRecursiveChainProof(core.ChainSummary, core.Proof) bool {
	return a.accept
}

func TestEdgeSyncHandleHeadersReturnsTipHash(t *testing.T) {
	tip := core.Blake3Sum32([]byte("tip"))
	chain := &fakeChain{
		summary: core.ChainSummary{TipHash: tip},
		headers: []BlockHeaderSummary{{Height: 1}, {Height: 2}},
	}
	responder := &EdgeSyncResponder{Chain: chain, Proofs: alwaysVerifyProofs{accept: true}}

	resp, err := responder.HandleHeaders(HeadersRequest{FromHeight: 0, Limit: 10})
	if err != nil {
		t.Fatalf("HandleHeaders: %v", err)
	}
	if resp.TipHash != tip {
		t.Fatalf("expected response tip hash to match chain summary tip")
	}
	if len(resp.Headers) != 2 {
		t.Fatalf("expected 2 headers, got %d", len(resp.Headers))
	}
}

func TestEdgeSyncHandleHeadersPropagatesProviderError(t *testing.T) {
	wantErr := errors.New("mesh_test: simulated provider failure")
	chain := &fakeChain{err: wantErr}
	responder := &EdgeSyncResponder{Chain: chain, Proofs: alwaysVerifyProofs{accept: true}}

	if _, err := responder.HandleHeaders(HeadersRequest{}); err != wantErr {
		t.Fatalf("expected provider error to propagate, got %v", err)
	}
}

func TestEdgeSyncHandleBootstrapRejectsInvalidProof(t *testing.T) {
	chain := &fakeChain{summary: core.ChainSummary{Height: 5}}
	responder := &EdgeSyncResponder{Chain: chain, Proofs: alwaysVerifyProofs{accept: false}}

	_, err := responder.HandleBootstrap(BootstrapProofRequest{}, nil)
	if err != ErrBootstrapProofRejected {
		t.Fatalf("expected ErrBootstrapProofRejected, got %v", err)
	}
}

func TestEdgeSyncHandleBootstrapAcceptsValidProof(t *testing.T) {
	summary := core.ChainSummary{Height: 5}
	chain := &fakeChain{summary: summary}
	responder := &EdgeSyncResponder{Chain: chain, Proofs: alwaysVerifyProofs{accept: true}}

	resp, err := responder.HandleBootstrap(BootstrapProofRequest{}, nil)
	if err != nil {
		t.Fatalf("HandleBootstrap: %v", err)
	}
	if resp.Summary.Height != summary.Height {
		t.Fatalf("expected returned summary to match chain's summary")
	}
}
