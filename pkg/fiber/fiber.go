// Package fiber provides cooperatively scheduled, resumable units of
// computation.
//
// A Fiber runs its body on a dedicated goroutine, but control is handed back
// and forth explicitly: the driver blocks in Resume while the body runs, and
// the body blocks in Yield while the driver runs. Exactly one side executes
// at any instant, so state shared between them needs no further locking.
//
// Usage:
//
//	f := fiber.New(ctx, func(ctx context.Context) any {
//		answer := fiber.Yield(ctx, "question")
//		return answer
//	})
//	q := f.Resume(nil)  // "question"
//	v := f.Resume(42)   // 42, and f is no longer alive
package fiber

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

// Deferred is a unit of work a fiber asks its driver to run. The driver
// calls it and resumes the fiber with the result.
type Deferred func() any

// Panic is delivered to the driver, in place of a final value, when the
// fiber body panics.
type Panic struct {
	Value any
	Stack []byte
}

func (p Panic) Error() string {
	return fmt.Sprintf("fiber panicked: %v", p.Value)
}

type handoff struct {
	value any
	done  bool
}

type abandonSignal struct{}

var errAbandoned = errors.New("fiber abandoned")

type ctxKey struct{}

// Fiber is a pausable computation.
type Fiber struct {
	body   func(ctx context.Context) any
	ctx    context.Context
	resume chan any
	yield  chan handoff
	exited chan struct{}

	mu      sync.Mutex
	started bool
	dead    bool
}

// New creates a fiber. The body does not start until the first Resume.
// The context handed to the body carries the fiber, so Yield and Defer can
// find it.
func New(ctx context.Context, body func(ctx context.Context) any) *Fiber {
	f := &Fiber{
		body:   body,
		resume: make(chan any),
		yield:  make(chan handoff),
		exited: make(chan struct{}),
	}
	f.ctx = context.WithValue(ctx, ctxKey{}, f)
	return f
}

// Current returns the fiber running the code that owns ctx.
func Current(ctx context.Context) (*Fiber, bool) {
	f, ok := ctx.Value(ctxKey{}).(*Fiber)
	return f, ok
}

// Alive reports whether the fiber can still be resumed.
func (f *Fiber) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.dead
}

// Resume hands control to the fiber and blocks until it yields or finishes.
// It returns the yielded value, or the body's return value (a Panic if the
// body panicked) once the fiber finishes. The value v becomes the result of
// the Yield the fiber is suspended in; it is ignored on the first Resume.
func (f *Fiber) Resume(v any) any {
	f.mu.Lock()
	if f.dead {
		f.mu.Unlock()
		panic("fiber: resume of dead fiber")
	}
	first := !f.started
	f.started = true
	f.mu.Unlock()

	if first {
		go f.run()
	} else {
		f.resume <- v
	}

	out := <-f.yield
	if out.done {
		f.mu.Lock()
		f.dead = true
		f.mu.Unlock()
	}
	return out.value
}

// Abandon permanently stops a suspended fiber. Its goroutine unwinds from
// the pending Yield and exits; deferred functions in the body still run.
// Abandoning a fiber that never started or already finished only marks it dead.
func (f *Fiber) Abandon() {
	f.mu.Lock()
	if f.dead {
		f.mu.Unlock()
		return
	}
	f.dead = true
	started := f.started
	f.mu.Unlock()

	if !started {
		return
	}
	f.resume <- abandonSignal{}
	<-f.exited
}

func (f *Fiber) run() {
	defer close(f.exited)

	var result any
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok && errors.Is(err, errAbandoned) {
				return
			}
			result = Panic{Value: r, Stack: debug.Stack()}
		}
		f.yield <- handoff{value: result, done: true}
	}()

	result = f.body(f.ctx)
}

func (f *Fiber) suspend(v any) any {
	f.yield <- handoff{value: v}
	in := <-f.resume
	if _, ok := in.(abandonSignal); ok {
		panic(errAbandoned)
	}
	return in
}

// Yield suspends the fiber owning ctx, handing v to the driver. It returns
// the value passed to the next Resume. Yield panics when ctx does not belong
// to a fiber.
func Yield(ctx context.Context, v any) any {
	f, ok := Current(ctx)
	if !ok {
		panic("fiber: yield outside of a fiber")
	}
	return f.suspend(v)
}

// Defer runs fn on the driver's side. Inside a fiber, fn is yielded as a
// Deferred and its result comes back through Resume. Outside a fiber, fn
// simply runs in place.
func Defer(ctx context.Context, fn func() any) any {
	f, ok := Current(ctx)
	if !ok {
		return fn()
	}
	return f.suspend(Deferred(fn))
}
