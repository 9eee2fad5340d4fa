package mesh

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/zhtp-network/zhtp-node/core"
)

// DisconnectTimeout is how long a node waits for a handshake response
// before tearing down the link (spec.md §4.5 step 4).
const DisconnectTimeout = 5 * time.Second

var (
	ErrChallengeExpired         = errors.New("mesh: challenge response arrived after the disconnect timeout")
	ErrChallengeMismatch        = errors.New("mesh: response did not match the issued challenge")
	ErrSignatureInvalid         = errors.New("mesh: challenge response signature did not verify")
	ErrResponderUnresolved      = errors.New("mesh: responder identity is not registered, or has been revoked, on the local ledger")
	ErrResponderKeyMismatch     = errors.New("mesh: responder's signing key does not match its registered on-chain identity")
)

// Challenge is step 1 of the authenticator handshake: a random nonce
// bound to the issuer's secure node id, sent to a newly discovered peer.
type Challenge struct {
	Nonce        [32]byte
	IssuerNodeID core.Hash
	IssuedAt     time.Time
}

// ChallengeResponse is step 2: the peer signs the nonce together with its
// claimed on-chain identity and advertised capabilities, binding its
// link-layer presence to a specific, resolvable identity rather than to a
// bare, self-asserted key (spec.md §4.5 step 2).
type ChallengeResponse struct {
	Nonce             [32]byte
	ResponderIdentity string
	Capabilities      []string
	Signature         core.Signature
}

// NewChallenge issues a fresh random challenge from issuerNodeID.
func NewChallenge(issuerNodeID core.Hash) (Challenge, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return Challenge{}, err
	}
	return Challenge{Nonce: nonce, IssuerNodeID: issuerNodeID, IssuedAt: time.Now()}, nil
}

// handshakeMessage assembles the bytes a responder signs and an issuer
// verifies: challenge_nonce || responder_identity || capabilities
// (spec.md §4.5 step 2).
func handshakeMessage(nonce [32]byte, responderIdentity string, capabilities []string) []byte {
	buf := make([]byte, 0, 32+len(responderIdentity)+16)
	buf = append(buf, nonce[:]...)
	buf = append(buf, []byte(responderIdentity)...)
	for _, c := range capabilities {
		buf = append(buf, []byte(c)...)
	}
	return buf
}

// Respond signs a received challenge's nonce, responder identity and
// capabilities with the responder's on-chain identity key (step 2).
func Respond(c core.Crypto, sk core.PrivateKey, pk core.PublicKey, challenge Challenge, responderIdentity string, capabilities []string) (ChallengeResponse, error) {
	msg := handshakeMessage(challenge.Nonce, responderIdentity, capabilities)
	sigBytes, err := c.Sign(sk, msg)
	if err != nil {
		return ChallengeResponse{}, err
	}
	return ChallengeResponse{
		Nonce:             challenge.Nonce,
		ResponderIdentity: responderIdentity,
		Capabilities:      capabilities,
		Signature: core.Signature{
			Bytes:     sigBytes,
			PublicKey: pk,
			Algorithm: core.AlgorithmDilithium2,
			Timestamp: time.Now().Unix(),
		},
	}, nil
}

// Verify implements steps 3-4: the issuer checks the response arrived
// within DisconnectTimeout, the nonce matches, the signature verifies under
// the claimed public key over nonce||responder_identity||capabilities, and
// that public key resolves to a non-revoked identity the local ledger's
// identity registry actually knows about (spec.md §4.5 step 3: "Initiator
// verifies signature under the responder's on-chain registered public
// key"). A peer whose self-asserted key is never registered, or whose
// registered identity has been revoked, is rejected even if the signature
// itself is internally consistent.
func Verify(c core.Crypto, identities *core.Registries, challenge Challenge, resp ChallengeResponse) error {
	if time.Since(challenge.IssuedAt) > DisconnectTimeout {
		return ErrChallengeExpired
	}
	if challenge.Nonce != resp.Nonce {
		return ErrChallengeMismatch
	}
	msg := handshakeMessage(resp.Nonce, resp.ResponderIdentity, resp.Capabilities)
	if err := core.VerifySignature(c, resp.Signature, msg); err != nil {
		return ErrSignatureInvalid
	}
	identity, ok := identities.Identity(resp.ResponderIdentity)
	if !ok || identity.Revoked {
		return ErrResponderUnresolved
	}
	if !bytesEqual(identity.PublicKey, resp.Signature.PublicKey) {
		return ErrResponderKeyMismatch
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TrustScoreFor maps a verified peer's handshake outcome and prior
// interaction history onto the 0-100 trust score PeerRecord carries,
// which the router later uses as a forwarding preference signal.
func TrustScoreFor(verified bool, priorScore int) int {
	if !verified {
		return 0
	}
	score := priorScore + 10
	if score > 100 {
		score = 100
	}
	if score < 50 {
		score = 50
	}
	return score
}

// Authenticator runs the handshake end to end for a single peer, resolving
// the responder against the node's on-chain identity registry and updating
// Registry on success or failure.
type Authenticator struct {
	Crypto     core.Crypto
	Identities *core.Registries
	Registry   *Registry
}

// Authenticate drives the full 1-4 handshake against a discovered peer
// using the supplied transport round-trip function, and records the
// outcome in the authenticator's Registry.
func (a *Authenticator) Authenticate(peerID core.Hash, roundTrip func(Challenge) (ChallengeResponse, error)) error {
	challenge, err := NewChallenge(peerID)
	if err != nil {
		return err
	}
	resp, err := roundTrip(challenge)
	if err != nil {
		a.Registry.SetVerification(peerID, VerificationFailed, 0)
		return err
	}
	if err := Verify(a.Crypto, a.Identities, challenge, resp); err != nil {
		a.Registry.SetVerification(peerID, VerificationFailed, 0)
		return err
	}
	existing, _ := a.Registry.Get(peerID)
	prior := 50
	if existing != nil {
		prior = existing.TrustScore
	}
	a.Registry.SetVerification(peerID, VerificationTrusted, TrustScoreFor(true, prior))
	return nil
}
