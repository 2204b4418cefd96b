package audit

import "sync"

const subscriberBuffer = 32

// Feed fans persisted entries out to per-user subscribers. A subscriber that
// falls behind misses entries rather than stalling the recorder.
type Feed struct {
	mu     sync.Mutex
	subs   map[int32]map[chan Entry]struct{}
	closed bool
}

func NewFeed() *Feed {
	return &Feed{subs: map[int32]map[chan Entry]struct{}{}}
}

// Subscribe returns a channel of userID's new entries and a cancel func that
// must be called to release it.
func (f *Feed) Subscribe(userID int32) (<-chan Entry, func()) {
	ch := make(chan Entry, subscriberBuffer)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	if f.subs[userID] == nil {
		f.subs[userID] = map[chan Entry]struct{}{}
	}
	f.subs[userID][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if _, ok := f.subs[userID][ch]; ok {
				delete(f.subs[userID], ch)
				if len(f.subs[userID]) == 0 {
					delete(f.subs, userID)
				}
				close(ch)
			}
		})
	}
}

func (f *Feed) Publish(e Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs[e.UserID] {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close ends every subscription.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for userID, chans := range f.subs {
		for ch := range chans {
			close(ch)
		}
		delete(f.subs, userID)
	}
}
