// Package request implements the RequestProcessor / ThinClientService
// surface (spec §4.3): it drains the verifier fan-out's output, classifies
// each packet as a transaction or a query, forwards transactions into the
// accounting stage, answers queries synchronously, and maintains the
// entry-info subscriber list notified as new entries are written.
package request

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xkanth/ledger-tpu/internal/streamer"
	"github.com/0xkanth/ledger-tpu/internal/verifier"
	"github.com/0xkanth/ledger-tpu/pkg/accounting"
	"github.com/0xkanth/ledger-tpu/pkg/entry"
	"github.com/0xkanth/ledger-tpu/pkg/packet"
)

const recvTimeout = time.Second

// Processor drains verifier.VerifiedQueue, applying spec §4.3's
// classification rule: sig-flag=1 transactions go to the accounting
// stage, sig-flag=0 packets are dropped, and queries are answered
// synchronously and enqueued on the responder queue.
type Processor struct {
	in         *verifier.VerifiedQueue
	responses  *streamer.ResponseQueue
	recycler   *packet.Recycler
	accounting *accounting.Stage
	logger     zerolog.Logger

	mu          sync.Mutex
	subscribers []chan entry.Header
}

// NewProcessor constructs a Processor.
func NewProcessor(in *verifier.VerifiedQueue, responses *streamer.ResponseQueue, recycler *packet.Recycler, stage *accounting.Stage, logger zerolog.Logger) *Processor {
	return &Processor{in: in, responses: responses, recycler: recycler, accounting: stage, logger: logger}
}

// Subscribe registers a channel to receive every future entry's header
// (spec §4.3's entry-info subscriber list). The channel is buffered by the
// caller; a subscriber that falls behind is dropped from the list by
// NotifyEntry rather than allowed to stall it.
func (p *Processor) Subscribe(ch chan entry.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, ch)
}

// NotifyEntry fans out header to every subscriber, called by the sync
// service once per written entry (spec §4.4 step 3). A subscriber whose
// channel is full is removed from the list instead of being skipped over
// on every subsequent entry.
func (p *Processor) NotifyEntry(header entry.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	live := p.subscribers[:0]
	for _, ch := range p.subscribers {
		select {
		case ch <- header:
			live = append(live, ch)
		default:
			p.logger.Warn().Msg("entry-info subscriber fell behind, dropping")
		}
	}
	p.subscribers = live
}

// Run drains verified batches until stop is set.
func (p *Processor) Run(stop *atomic.Bool) {
	for {
		v, err := p.in.RecvOne(recvTimeout)
		if err != nil {
			if stop.Load() {
				p.logger.Info().Msg("request processor exiting")
				return
			}
			continue
		}
		p.handleBatch(v)
	}
}

func (p *Processor) handleBatch(v verifier.Verified) {
	for i, pkt := range v.Packets.Packets {
		flag := byte(0)
		if i < len(v.SigFlags) {
			flag = v.SigFlags[i]
		}
		if flag != 1 {
			p.recycler.Recycle(pkt)
			continue
		}

		req, err := entry.Decode[entry.ClientRequest](pkt.Payload())
		if err != nil {
			p.logger.Debug().Err(err).Msg("request processor: malformed payload despite valid sig-flag")
			p.recycler.Recycle(pkt)
			continue
		}

		switch {
		case req.Transaction != nil:
			if err := p.accounting.ApplyTransaction(req.Transaction); err != nil {
				p.logger.Debug().Err(err).Msg("transaction rejected")
			}
			p.recycler.Recycle(pkt)
		case req.Query != nil:
			p.answerQuery(pkt, req.Query)
		default:
			p.recycler.Recycle(pkt)
		}
	}
}

// answerQuery serves a balance lookup synchronously from accounting state
// and reuses the same packet buffer for the reply, addressed back to the
// querying peer.
func (p *Processor) answerQuery(pkt *packet.Packet, q *entry.Query) {
	bal, ok := p.accounting.GetBalance(q.From)
	resp := balanceResponse{Pubkey: q.From, Balance: bal, Known: ok}

	payload, err := entry.Encode(resp)
	if err != nil {
		p.logger.Debug().Err(err).Msg("failed to encode query response")
		p.recycler.Recycle(pkt)
		return
	}
	copy(pkt.Data[:], payload)
	pkt.Size = len(payload)
	p.responses.Send(pkt)
}

// balanceResponse is the gob-encoded reply to a Query.
type balanceResponse struct {
	Pubkey  entry.Pubkey
	Balance int64
	Known   bool
}
