package messagelog

import "sync"

// feed is the delivery side of one subscription. push never blocks the
// writer; snapshots queue up and are handed to the reader in push order.
type feed struct {
	mu      sync.Mutex
	queue   []Snapshot
	signal  chan struct{}
	out     chan Snapshot
	done    chan struct{}
	once    sync.Once
	err     error
	onClose func()
}

func newFeed(onClose func()) *feed {
	f := &feed{
		signal:  make(chan struct{}, 1),
		out:     make(chan Snapshot),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	go f.pump()
	return f
}

func (f *feed) push(s Snapshot) {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return
	}
	f.queue = append(f.queue, s)
	f.mu.Unlock()

	select {
	case f.signal <- struct{}{}:
	default:
	}
}

func (f *feed) pump() {
	defer close(f.out)
	for {
		f.mu.Lock()
		if len(f.queue) == 0 {
			f.mu.Unlock()
			select {
			case <-f.signal:
				continue
			case <-f.done:
				return
			}
		}
		next := f.queue[0]
		f.queue[0] = Snapshot{}
		f.queue = f.queue[1:]
		f.mu.Unlock()

		select {
		case f.out <- next:
		case <-f.done:
			return
		}
	}
}

// end stops delivery. Queued snapshots that were not yet read are dropped.
func (f *feed) end(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.err = err
		f.queue = nil
		f.mu.Unlock()
		close(f.done)
		if f.onClose != nil {
			f.onClose()
		}
	})
}

func (f *feed) Snapshots() <-chan Snapshot {
	return f.out
}

func (f *feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *feed) Close() error {
	f.end(ErrClosed)
	return nil
}
