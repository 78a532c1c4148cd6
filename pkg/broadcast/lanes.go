package broadcast

import "sync"

// lanes runs work for one key at a time, in submission order. Each key
// with pending work has exactly one goroutine; it exits once the queue is
// empty. Different keys run in parallel.
type lanes struct {
	mu     sync.Mutex
	queues map[string][]func()
	closed bool
	wg     sync.WaitGroup
}

func newLanes() *lanes {
	return &lanes{queues: make(map[string][]func())}
}

// submit queues fn on key's lane. It reports false once the lanes are
// closed.
func (l *lanes) submit(key string, fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}

	q, running := l.queues[key]
	l.queues[key] = append(q, fn)
	if !running {
		l.wg.Add(1)
		go l.run(key)
	}
	return true
}

func (l *lanes) run(key string) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		q := l.queues[key]
		if len(q) == 0 {
			delete(l.queues, key)
			l.mu.Unlock()
			return
		}
		fn := q[0]
		q[0] = nil
		l.queues[key] = q[1:]
		l.mu.Unlock()

		fn()
	}
}

// active returns the number of keys with pending or running work
func (l *lanes) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues)
}

// close rejects further work and waits for queued work to finish
func (l *lanes) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.wg.Wait()
}
