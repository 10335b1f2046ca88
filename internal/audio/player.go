package audio

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Output receives decoded playback audio, one frame at a time.
type Output interface {
	WriteAudio(pcm []byte) error
}

type frame struct {
	gen uint64
	pcm []byte
}

// Player writes frames to an Output strictly in enqueue order from a single
// goroutine, so one frame never overlaps the next.
type Player struct {
	out Output
	log *zap.Logger

	queue chan frame
	quit  chan struct{}
	done  chan struct{}

	gen     atomic.Uint64
	pending atomic.Int64

	closeOnce sync.Once
}

// NewPlayer starts the playback goroutine. depth bounds the number of queued frames.
func NewPlayer(out Output, depth int, log *zap.Logger) *Player {
	if depth <= 0 {
		depth = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Player{
		out:   out,
		log:   log,
		queue: make(chan frame, depth),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

// Enqueue schedules pcm after every previously enqueued frame. It blocks while the
// queue is full and reports false once the player is closed.
func (p *Player) Enqueue(pcm []byte) bool {
	if len(pcm) == 0 {
		return true
	}
	select {
	case <-p.quit:
		playbackDrops.WithLabelValues("closed").Inc()
		return false
	default:
	}
	p.pending.Add(1)
	select {
	case p.queue <- frame{gen: p.gen.Load(), pcm: pcm}:
		return true
	case <-p.quit:
		p.pending.Add(-1)
		playbackDrops.WithLabelValues("closed").Inc()
		return false
	}
}

// TryEnqueue is Enqueue without waiting: when the queue is full the frame is dropped
// and counted, and false is returned.
func (p *Player) TryEnqueue(pcm []byte) bool {
	if len(pcm) == 0 {
		return true
	}
	select {
	case <-p.quit:
		playbackDrops.WithLabelValues("closed").Inc()
		return false
	default:
	}
	p.pending.Add(1)
	select {
	case p.queue <- frame{gen: p.gen.Load(), pcm: pcm}:
		return true
	default:
		p.pending.Add(-1)
		playbackDrops.WithLabelValues("full").Inc()
		return false
	}
}

// Playing reports whether any frame is queued or being written.
func (p *Player) Playing() bool { return p.pending.Load() > 0 }

// Flush discards every frame enqueued so far. The frame currently being written, if
// any, finishes.
func (p *Player) Flush() {
	p.gen.Add(1)
}

// Close stops accepting frames, lets queued frames finish and waits for the playback
// goroutine. Safe to call more than once.
func (p *Player) Close() {
	p.closeOnce.Do(func() { close(p.quit) })
	<-p.done
}

func (p *Player) run() {
	defer close(p.done)
	for {
		select {
		case f := <-p.queue:
			p.play(f)
		case <-p.quit:
			for {
				select {
				case f := <-p.queue:
					p.play(f)
				default:
					return
				}
			}
		}
	}
}

func (p *Player) play(f frame) {
	defer p.pending.Add(-1)
	if f.gen != p.gen.Load() {
		playbackDrops.WithLabelValues("flush").Inc()
		return
	}
	if err := p.out.WriteAudio(f.pcm); err != nil {
		p.log.Warn("playback write failed", zap.Error(err), zap.Int("bytes", len(f.pcm)))
		return
	}
	playbackFrames.Inc()
}
