// ABOUTME: Recorder strategy contract and the shared per-attachment session plumbing
// ABOUTME: A recorder turns captured frames into encoded chunks on one node's stream
package audiosource

import (
	"context"
	"sync"

	"github.com/speechlink/speechlink-go/pkg/audio"
	"github.com/speechlink/speechlink-go/pkg/audio/resample"
	"github.com/speechlink/speechlink-go/pkg/stream"
)

// Recorder encodes input frames into a node stream.
// Record starts a session that runs until ctx is done; it does not block.
// ReleaseMediaResources stops every session still running.
type Recorder interface {
	Format() audio.Format
	Record(ctx context.Context, in Input, out *stream.Stream[[]byte]) error
	ReleaseMediaResources() error
}

// sessionEncoder consumes mono samples at the recorder's target rate
type sessionEncoder interface {
	push(samples []float32) error
	flush() error
	close() error
}

// sessionSet tracks running sessions so they can all be stopped at once
type sessionSet struct {
	mu       sync.Mutex
	sessions map[*session]struct{}
}

func (s *sessionSet) add(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = make(map[*session]struct{})
	}
	s.sessions[sess] = struct{}{}
}

func (s *sessionSet) remove(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess)
}

func (s *sessionSet) stopAll() {
	s.mu.Lock()
	all := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.Unlock()

	for _, sess := range all {
		sess.stop()
	}
}

func (s *sessionSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// session converts capture frames to mono at the target rate and feeds
// an encoder, batching blockFrames capture frames per conversion
type session struct {
	set         *sessionSet
	channels    int
	blockFrames int
	resampler   *resample.Resampler
	enc         sessionEncoder

	mu          sync.Mutex
	pending     []float32
	stopped     bool
	err         error
	unsubscribe func()
	done        chan struct{}
}

func startSession(ctx context.Context, set *sessionSet, in Input, targetRate, blockFrames int, enc sessionEncoder) (*session, error) {
	sess := &session{
		set:         set,
		channels:    in.Channels(),
		blockFrames: blockFrames,
		resampler:   resample.New(in.SampleRate(), targetRate, 1),
		enc:         enc,
		done:        make(chan struct{}),
	}
	set.add(sess)

	sess.mu.Lock()
	sess.unsubscribe = in.Subscribe(sess.onFrames)
	sess.mu.Unlock()

	if err := in.Start(); err != nil {
		sess.stop()
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			sess.stop()
		case <-sess.done:
		}
	}()
	return sess, nil
}

func (s *session) onFrames(frames []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.err != nil {
		return
	}

	s.pending = append(s.pending, frames...)
	block := s.blockFrames * s.channels
	for len(s.pending) >= block {
		if err := s.convert(s.pending[:block]); err != nil {
			s.err = err
			return
		}
		s.pending = s.pending[block:]
	}
}

func (s *session) convert(frames []float32) error {
	mono := audio.DownmixToMono(frames, s.channels)
	return s.enc.push(s.resampler.Process(mono))
}

// stop unsubscribes, flushes whatever is buffered and releases the encoder
func (s *session) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.stopped = true
	unsub := s.unsubscribe
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}

	s.mu.Lock()
	if s.err == nil && len(s.pending) >= s.channels {
		s.err = s.convert(s.pending[:len(s.pending)/s.channels*s.channels])
	}
	s.pending = nil
	if s.err == nil {
		s.err = s.enc.flush()
	}
	_ = s.enc.close()
	s.mu.Unlock()

	s.set.remove(s)
	close(s.done)
}
