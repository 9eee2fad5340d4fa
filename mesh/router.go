package mesh

import (
	"context"
	"errors"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"

	"github.com/zhtp-network/zhtp-node/core"
)

// MaxHops is an upper bound for an Envelope's hop budget (spec.md §4.6).
// Nothing in this package reads it: Send refuses an envelope whose
// HopsLeft is 0 and shouldForward drops one at zero hops, whatever budget
// it started with.
const MaxHops = 8

var ErrHopLimitExceeded = errors.New("mesh: envelope exceeded its maximum hop count")

// Envelope is a routed mesh message: a payload addressed to a final
// destination, forwarded peer-to-peer with a decrementing hop budget.
type Envelope struct {
	ID          core.Hash
	Destination core.Hash
	Origin      core.Hash
	HopsLeft    uint8
	Payload     []byte
}

// Router is a relay for Envelopes discovered over
// BLE/WiFi-Direct (abstracted behind the libp2p host) and mDNS, grounded
// directly on the teacher's core/network.go Node: a libp2p host plus
// gossipsub plus mDNS discovery, generalized from the teacher's global
// broadcast hook to publishing fragmented envelope payloads on a single
// gossip topic.
type Router struct {
	host       host.Host
	pubsub     *pubsub.PubSub
	topic      *pubsub.Topic
	sub        *pubsub.Subscription
	discovery  mdns.Service
	peers      *Registry
	reassembly *Reassembler

	// Route resolves a destination secure-node-id to a libp2p peer.ID when
	// one is directly known. No code in this package sets or reads it;
	// Send always publishes to the gossip topic.
	Route func(destination core.Hash) (peer.ID, bool)
}

// Config parameterizes Router construction.
type Config struct {
	ListenAddrs  []string
	DiscoveryTag string
}

// NewRouter constructs a libp2p host, joins a single gossipsub topic used
// for mesh envelope flooding, and starts mDNS discovery, mirroring the
// teacher's NewNode wiring (core/network.go) but without the package-level
// SetBroadcaster hook the redesign replaces with Router.Send and
// Router.Receive.
func NewRouter(ctx context.Context, cfg Config, peers *Registry) (*Router, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddrs...))
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}
	topic, err := ps.Join("zhtp-mesh-envelopes")
	if err != nil {
		return nil, err
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return nil, err
	}

	r := &Router{
		host:       h,
		pubsub:     ps,
		topic:      topic,
		sub:        sub,
		peers:      peers,
		reassembly: NewReassembler(),
	}
	disc := mdns.NewMdnsService(h, cfg.DiscoveryTag, r)
	if err := disc.Start(); err != nil {
		return nil, err
	}
	r.discovery = disc
	return r, nil
}

// HandlePeerFound implements mdns.Notifee, mirroring the teacher's Node
// method of the same name: newly discovered peers are dialed so they join
// the gossip topic.
func (r *Router) HandlePeerFound(pi peer.AddrInfo) {
	_ = r.host.Connect(context.Background(), pi)
}

// Send fragments env.Payload at the WiFi-Direct MTU and publishes every
// frame to the gossip topic, waiting InterFrameSpacing between frames. An
// envelope with no hops left is refused with ErrHopLimitExceeded. Route is
// not consulted, and only the envelope ID (as each frame's MessageID) and
// Payload are carried; Destination, Origin and HopsLeft are not encoded.
func (r *Router) Send(ctx context.Context, env Envelope) error {
	if env.HopsLeft == 0 {
		return ErrHopLimitExceeded
	}
	frames, err := Fragment(env.ID, env.Payload, LinkWiFiDirect)
	if err != nil {
		return err
	}
	for i, f := range frames {
		if i > 0 {
			time.Sleep(InterFrameSpacing)
		}
		if err := r.topic.Publish(ctx, f.Encode()); err != nil {
			return err
		}
	}
	return nil
}

// Receive reads the next frame from the gossip topic, sweeps expired
// partial messages, and feeds the frame to the reassembler. It returns
// (env, true, nil) once a message is complete; env carries only ID and
// Payload. Receive does not apply the hop budget or decide between local
// delivery and forwarding.
func (r *Router) Receive(ctx context.Context) (Envelope, bool, error) {
	msg, err := r.sub.Next(ctx)
	if err != nil {
		return Envelope{}, false, err
	}
	frame, err := DecodeFrame(msg.Data)
	if err != nil {
		return Envelope{}, false, err
	}
	peerHash := core.Blake3Sum32([]byte(msg.ReceivedFrom))
	r.reassembly.Sweep()
	payload, complete := r.reassembly.Ingest(peerHash, frame)
	if !complete {
		return Envelope{}, false, nil
	}
	env := Envelope{ID: frame.MessageID, Payload: payload}
	return env, true, nil
}

// shouldForward applies the hop-count routing decision of spec.md §4.6:
// drop at zero hops, deliver locally if this node is the destination,
// otherwise forward. It only reports the decision; HopsLeft is not changed.
func shouldForward(env Envelope, localNodeID core.Hash) (deliverLocally, forward bool) {
	if env.HopsLeft == 0 {
		return false, false
	}
	if env.Destination == localNodeID {
		return true, false
	}
	return false, true
}

// Close tears down the host and discovery service.
func (r *Router) Close() error {
	if r.discovery != nil {
		_ = r.discovery.Close()
	}
	return r.host.Close()
}
