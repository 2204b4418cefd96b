package vault

import "sync"

// fileLocks hands out one RWMutex per file id, dropping entries nobody
// holds or waits on.
type fileLocks struct {
	mu    sync.Mutex
	locks map[int32]*fileLock
}

type fileLock struct {
	sync.RWMutex
	refs int
}

func newFileLocks() *fileLocks {
	return &fileLocks{locks: map[int32]*fileLock{}}
}

func (l *fileLocks) acquire(id int32) *fileLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	fl, ok := l.locks[id]
	if !ok {
		fl = &fileLock{}
		l.locks[id] = fl
	}
	fl.refs++
	return fl
}

func (l *fileLocks) release(id int32, fl *fileLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fl.refs--
	if fl.refs == 0 {
		delete(l.locks, id)
	}
}

// Lock takes the exclusive lock for id and returns its unlock func.
func (l *fileLocks) Lock(id int32) func() {
	fl := l.acquire(id)
	fl.Lock()
	return func() {
		fl.Unlock()
		l.release(id, fl)
	}
}

// RLock takes the shared lock for id and returns its unlock func.
func (l *fileLocks) RLock(id int32) func() {
	fl := l.acquire(id)
	fl.RLock()
	return func() {
		fl.RUnlock()
		l.release(id, fl)
	}
}
