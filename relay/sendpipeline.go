package relay

import (
	"log"

	"thinrelay.dev/engine/chain"
)

// SendPipeline pairs a Sender with the two bounded worker pools an
// embedder uses to fan outbound relay traffic out across peers without
// ever blocking its own caller longer than it takes to enqueue
// (SPEC_FULL.md §4). Errors from the underlying Sender are logged, not
// returned, since the pipeline decouples the caller from the write.
type SendPipeline struct {
	sender    *Sender
	blockPool *Pool
	txPool    *Pool
	logger    *log.Logger
}

// NewSendPipeline wires sender to a dedicated block pool (4 workers, 50
// burst) and transaction pool (4 workers, 25 burst). logger may be nil, in
// which case log.Default() is used.
func NewSendPipeline(sender *Sender, logger *log.Logger) *SendPipeline {
	if logger == nil {
		logger = log.Default()
	}
	return &SendPipeline{
		sender:    sender,
		blockPool: NewPool(4, 50),
		txPool:    NewPool(4, 25),
		logger:    logger,
	}
}

// EnqueueBlock schedules block to be sent, blocking only if the block
// pool's burst buffer is already full.
func (p *SendPipeline) EnqueueBlock(block chain.Block) {
	p.blockPool.Submit(func() {
		if err := p.sender.SendBlock(block); err != nil {
			p.logger.Printf("relay: send block: %v", err)
		}
	})
}

// EnqueueTransaction schedules tx to be sent, blocking only if the
// transaction pool's burst buffer is already full.
func (p *SendPipeline) EnqueueTransaction(tx chain.Transaction) {
	p.txPool.Submit(func() {
		if err := p.sender.SendTransaction(tx); err != nil {
			p.logger.Printf("relay: send transaction: %v", err)
		}
	})
}

// Close drains both pools, waiting for all enqueued sends to finish.
func (p *SendPipeline) Close() {
	p.blockPool.Close()
	p.txPool.Close()
}
