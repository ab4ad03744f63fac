// Package mpi implements an in-process message passing world of ranks.
//
// Every rank runs in its own goroutine and shares nothing with the others except through messages.
// Point to point messages are matched by source and tag in posting order, and messages from one source to
// one destination never overtake each other. Collectives travel on a separate context, so they never match
// point to point receives.
package mpi

import (
	"context"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	AnySource = -1
	AnyTag    = -1
)

const (
	contextP2P = iota
	contextCollective
	numContexts
)

var (
	ErrAborted = errors.New("aborted")
)

type Message struct {
	Source int
	Tag    int
	Data   []byte
}

func (m Message) matches(source, tag int) bool {
	return (source == AnySource || source == m.Source) && (tag == AnyTag || tag == m.Tag)
}

type mailbox struct {
	mu         sync.Mutex
	posted     []*Request
	unexpected []Message
}

type world struct {
	size  int
	boxes [numContexts][]*mailbox
}

// Comm is the handle of one rank.
type Comm struct {
	w    *world
	rank int
}

// Run starts size ranks running fn and waits for all of them.
// An error on any rank cancels the context of the others, whose blocking calls then fail with ErrAborted.
func Run(ctx context.Context, size int, fn func(ctx context.Context, comm *Comm) error) error {
	if size < 1 {
		return errors.Errorf("%d ranks", size)
	}
	w := &world{size: size}
	for c := range w.boxes {
		w.boxes[c] = make([]*mailbox, size)
		for r := range size {
			w.boxes[c][r] = &mailbox{}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for rank := range size {
		comm := &Comm{w: w, rank: rank}
		g.Go(func() error {
			if err := fn(gctx, comm); err != nil {
				return errors.Wrap(err, "")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

func (c *Comm) Rank() int { return c.rank }
func (c *Comm) Size() int { return c.w.size }

// Send delivers data to dest. It never blocks.
func (c *Comm) Send(dest, tag int, data []byte) error {
	return c.send(contextP2P, dest, tag, data)
}

// Irecv posts a receive and returns immediately.
func (c *Comm) Irecv(source, tag int) *Request {
	return c.irecv(contextP2P, source, tag)
}

func (c *Comm) Recv(ctx context.Context, source, tag int) (Message, error) {
	m, err := c.Irecv(source, tag).Wait(ctx)
	if err != nil {
		return Message{}, errors.Wrap(err, "")
	}
	return m, nil
}

func (c *Comm) send(ctxID, dest, tag int, data []byte) error {
	if dest < 0 || dest >= c.w.size {
		return errors.Errorf("destination %d outside %d ranks", dest, c.w.size)
	}
	if tag < 0 {
		return errors.Errorf("tag %d", tag)
	}
	msg := Message{Source: c.rank, Tag: tag, Data: slices.Clone(data)}

	box := c.w.boxes[ctxID][dest]
	box.mu.Lock()
	defer box.mu.Unlock()
	for i, r := range box.posted {
		if msg.matches(r.source, r.tag) {
			box.posted = slices.Delete(box.posted, i, i+1)
			r.complete(msg)
			return nil
		}
	}
	box.unexpected = append(box.unexpected, msg)
	return nil
}

func (c *Comm) irecv(ctxID, source, tag int) *Request {
	r := &Request{box: c.w.boxes[ctxID][c.rank], source: source, tag: tag, done: make(chan struct{})}

	box := r.box
	box.mu.Lock()
	defer box.mu.Unlock()
	for i, m := range box.unexpected {
		if m.matches(source, tag) {
			box.unexpected = slices.Delete(box.unexpected, i, i+1)
			r.complete(m)
			return r
		}
	}
	box.posted = append(box.posted, r)
	return r
}

func (c *Comm) recvCollective(ctx context.Context, source int) ([]byte, error) {
	m, err := c.irecv(contextCollective, source, 0).Wait(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return m.Data, nil
}

// Request is a pending receive.
type Request struct {
	box    *mailbox
	source int
	tag    int

	done      chan struct{}
	msg       Message
	cancelled bool
}

// complete must be called with the mailbox locked.
func (r *Request) complete(m Message) {
	r.msg = m
	close(r.done)
}

// Test reports whether the receive has completed.
func (r *Request) Test() bool {
	select {
	case <-r.done:
		return !r.cancelled
	default:
		return false
	}
}

// Message returns the received message of a completed request.
func (r *Request) Message() Message {
	return r.msg
}

func (r *Request) Wait(ctx context.Context) (Message, error) {
	select {
	case <-r.done:
		if r.cancelled {
			return Message{}, errors.Errorf("cancelled")
		}
		return r.msg, nil
	case <-ctx.Done():
		r.Cancel()
		return Message{}, errors.Wrap(ErrAborted, ctx.Err().Error())
	}
}

// Cancel withdraws the receive if it has not matched a message yet.
func (r *Request) Cancel() bool {
	r.box.mu.Lock()
	defer r.box.mu.Unlock()
	i := slices.Index(r.box.posted, r)
	if i < 0 {
		return false
	}
	r.box.posted = slices.Delete(r.box.posted, i, i+1)
	r.cancelled = true
	close(r.done)
	return true
}
