package capture

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"callguard/pkg/audio"
)

// node is one processing stage. process hands its output to next, possibly
// zero or several times.
type node interface {
	process(block []float32, next func([]float32))
	disconnect()
}

// resampleNode converts the source rate to the target rate
type resampleNode struct {
	resampler *audio.Resampler
}

func (n *resampleNode) process(block []float32, next func([]float32)) {
	if out := n.resampler.Process(block); len(out) > 0 {
		next(out)
	}
}

func (n *resampleNode) disconnect() { n.resampler = nil }

// frameNode regroups samples into fixed-size blocks
type frameNode struct {
	size    int
	pending []float32
}

func (n *frameNode) process(block []float32, next func([]float32)) {
	n.pending = append(n.pending, block...)
	for len(n.pending) >= n.size {
		out := make([]float32, n.size)
		copy(out, n.pending[:n.size])
		n.pending = n.pending[n.size:]
		next(audio.Clamp(out))
	}
}

func (n *frameNode) disconnect() { n.pending = nil }

// Pipeline reads a source and delivers fixed-size blocks at the target rate
// to a callback on its own goroutine.
type Pipeline struct {
	source  Source
	nodes   []node
	onBlock func([]float32)
	onEnd   func(error)
	logger  *logrus.Entry

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPipeline builds the chain source → resample → frame → onBlock. onEnd is
// called once if the source ends or fails before Disconnect; a nil error
// means a finite source ran out.
func NewPipeline(source Source, targetRate, blockSize int, onBlock func([]float32), onEnd func(error), logger *logrus.Entry) *Pipeline {
	var nodes []node
	if source.SampleRate() != targetRate {
		nodes = append(nodes, &resampleNode{resampler: audio.NewResampler(source.SampleRate(), targetRate)})
	}
	nodes = append(nodes, &frameNode{size: blockSize})

	return &Pipeline{
		source:  source,
		nodes:   nodes,
		onBlock: onBlock,
		onEnd:   onEnd,
		logger:  logger,
	}
}

// Start begins pulling from the source. Calling Start twice has no effect.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.nodes, p.done)
}

func (p *Pipeline) run(ctx context.Context, nodes []node, done chan struct{}) {
	defer close(done)

	var push func(i int, block []float32)
	push = func(i int, block []float32) {
		if i == len(nodes) {
			if ctx.Err() == nil {
				p.onBlock(block)
			}
			return
		}
		nodes[i].process(block, func(out []float32) { push(i+1, out) })
	}

	for {
		block, err := p.source.ReadBlock(ctx)
		if err != nil {
			if ctx.Err() != nil || err == ErrStopped {
				return
			}
			if err == io.EOF {
				err = nil
			}
			if err != nil {
				p.logger.WithError(err).Warn("Audio input failed")
			}
			if p.onEnd != nil {
				p.onEnd(err)
			}
			return
		}
		push(0, block)
	}
}

// Disconnect stops delivery and tears down every node. The source must be
// stopped first if its reads can block indefinitely. Safe to call more than once.
func (p *Pipeline) Disconnect() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	nodes := p.nodes
	p.nodes = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	for _, n := range nodes {
		n.disconnect()
	}
}
