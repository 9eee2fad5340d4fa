package mesh

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/zhtp-network/zhtp-node/core"
)

// InterFrameSpacing is the delay Router.Send waits between
// consecutive frames of the same message, avoiding BLE link-layer
// congestion (spec.md §4.7).
const InterFrameSpacing = time.Millisecond

// ReassemblyTTL is how long a partially-received message's fragments are
// kept before being discarded as abandoned (spec.md §4.7).
const ReassemblyTTL = 30 * time.Second

// MaxInFlightPerPeer bounds how many messages may be mid-reassembly from a
// single peer at once; the oldest is evicted to make room for a new one
// past this cap (spec.md §4.7).
const MaxInFlightPerPeer = 32

var (
	ErrFragmentTooLarge = errors.New("mesh: fragment payload exceeds the link MTU")
	ErrReassemblyExpired = errors.New("mesh: message reassembly exceeded its TTL")
)

// Frame is a single wire fragment of a larger message.
type Frame struct {
	MessageID core.Hash
	Seq       uint16
	Total     uint16
	Payload   []byte
}

const frameHeaderSize = 32 + 2 + 2 + 2 // MessageID + Seq + Total + payload length prefix

// Fragment splits payload into Frames no larger than link's MTU, each
// carrying the full header overhead.
func Fragment(messageID core.Hash, payload []byte, link LinkKind) ([]Frame, error) {
	mtu := LinkMTU(link)
	chunkSize := mtu - frameHeaderSize
	if chunkSize <= 0 {
		return nil, ErrFragmentTooLarge
	}
	if len(payload) == 0 {
		return []Frame{{MessageID: messageID, Seq: 0, Total: 1, Payload: nil}}, nil
	}
	total := (len(payload) + chunkSize - 1) / chunkSize
	frames := make([]Frame, 0, total)
	for seq := 0; seq*chunkSize < len(payload); seq++ {
		start := seq * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		frames = append(frames, Frame{
			MessageID: messageID,
			Seq:       uint16(seq),
			Total:     uint16(total),
			Payload:   payload[start:end],
		})
	}
	return frames, nil
}

// Encode serializes a Frame to its wire form.
func (f Frame) Encode() []byte {
	buf := make([]byte, 0, frameHeaderSize+len(f.Payload))
	buf = append(buf, f.MessageID[:]...)
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], f.Seq)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint16(tmp[:], f.Total)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint16(tmp[:], uint16(len(f.Payload)))
	buf = append(buf, tmp[:]...)
	buf = append(buf, f.Payload...)
	return buf
}

// DecodeFrame parses a Frame from its wire form.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < frameHeaderSize {
		return Frame{}, errors.New("mesh: frame shorter than header")
	}
	var f Frame
	copy(f.MessageID[:], b[0:32])
	f.Seq = binary.LittleEndian.Uint16(b[32:34])
	f.Total = binary.LittleEndian.Uint16(b[34:36])
	n := binary.LittleEndian.Uint16(b[36:38])
	if len(b[38:]) < int(n) {
		return Frame{}, errors.New("mesh: truncated frame payload")
	}
	f.Payload = b[38 : 38+int(n)]
	return f, nil
}

// inFlight tracks a single message's partially-received fragments.
type inFlight struct {
	total    uint16
	received map[uint16][]byte
	started  time.Time
}

// Reassembler buffers fragments per peer until a message completes or its
// TTL expires.
type Reassembler struct {
	mu      sync.Mutex
	byPeer  map[core.Hash]map[core.Hash]*inFlight
	order   map[core.Hash][]core.Hash // insertion order per peer, for oldest-eviction
}

func NewReassembler() *Reassembler {
	return &Reassembler{
		byPeer: make(map[core.Hash]map[core.Hash]*inFlight),
		order:  make(map[core.Hash][]core.Hash),
	}
}

// Ingest feeds a single received frame from peerID and returns the
// complete payload once every fragment of its message has arrived.
func (r *Reassembler) Ingest(peerID core.Hash, f Frame) (payload []byte, complete bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs, ok := r.byPeer[peerID]
	if !ok {
		msgs = make(map[core.Hash]*inFlight)
		r.byPeer[peerID] = msgs
	}

	state, ok := msgs[f.MessageID]
	if !ok {
		if len(r.order[peerID]) >= MaxInFlightPerPeer {
			r.evictOldestLocked(peerID)
		}
		state = &inFlight{total: f.Total, received: make(map[uint16][]byte), started: time.Now()}
		msgs[f.MessageID] = state
		r.order[peerID] = append(r.order[peerID], f.MessageID)
	}

	state.received[f.Seq] = f.Payload
	if len(state.received) < int(state.total) {
		return nil, false
	}

	out := make([]byte, 0)
	for seq := uint16(0); seq < state.total; seq++ {
		chunk, ok := state.received[seq]
		if !ok {
			return nil, false
		}
		out = append(out, chunk...)
	}
	delete(msgs, f.MessageID)
	r.removeFromOrderLocked(peerID, f.MessageID)
	return out, true
}

// Sweep discards any in-flight message older than ReassemblyTTL;
// Router.Receive calls it before ingesting each frame.
func (r *Reassembler) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-ReassemblyTTL)
	for peer, msgs := range r.byPeer {
		for id, state := range msgs {
			if state.started.Before(cutoff) {
				delete(msgs, id)
				r.removeFromOrderLocked(peer, id)
			}
		}
	}
}

func (r *Reassembler) evictOldestLocked(peerID core.Hash) {
	order := r.order[peerID]
	if len(order) == 0 {
		return
	}
	oldest := order[0]
	delete(r.byPeer[peerID], oldest)
	r.order[peerID] = order[1:]
}

func (r *Reassembler) removeFromOrderLocked(peerID core.Hash, id core.Hash) {
	order := r.order[peerID]
	for i, existing := range order {
		if existing == id {
			r.order[peerID] = append(order[:i], order[i+1:]...)
			return
		}
	}
}
