// Package mrsw provides the multi-reader/single-writer lock carried by
// every volume and every dentry.
//
// It differs from sync.RWMutex in three observable ways: a writer can
// downgrade to a reader without releasing (WriteToRead), writers can
// declare a long critical section (WriteLong), and readers can opt out of
// waiting behind a long writer (ReadShort). The raw write path takes the
// volume lock long while streaming to the medium; short readers such as
// attribute queries abort instead of stalling behind it.
package mrsw

import "sync"

// Lock is a multi-reader/single-writer lock. The zero value is ready to
// use.
type Lock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	readers int
	writer  bool

	waitingWriters int
	longWaiting    int
	longHeld       bool
}

func (l *Lock) init() {
	if l.cond == nil {
		l.cond = sync.NewCond(&l.mu)
	}
}

// Read acquires the lock for reading, waiting for any writer to finish.
func (l *Lock) Read() {
	l.mu.Lock()
	l.init()
	for l.writer {
		l.cond.Wait()
	}
	l.readers++
	l.mu.Unlock()
}

// ReadShort acquires the lock for reading unless a long writer holds the
// lock or is queued for it, in which case it reports false and acquires
// nothing.
func (l *Lock) ReadShort() bool {
	l.mu.Lock()
	l.init()
	for {
		if l.longHeld || l.longWaiting > 0 {
			l.mu.Unlock()
			return false
		}
		if !l.writer {
			break
		}
		l.cond.Wait()
	}
	l.readers++
	l.mu.Unlock()
	return true
}

// ReleaseRead releases a read acquisition.
func (l *Lock) ReleaseRead() {
	l.mu.Lock()
	l.init()
	if l.readers <= 0 {
		l.mu.Unlock()
		panic("mrsw: ReleaseRead without matching Read")
	}
	l.readers--
	if l.readers == 0 {
		l.cond.Broadcast()
	}
	l.mu.Unlock()
}

// Write acquires the lock exclusively.
func (l *Lock) Write() {
	l.acquireWrite(false)
}

// WriteLong acquires the lock exclusively for a long critical section.
// While it is queued or held, ReadShort refuses to wait.
func (l *Lock) WriteLong() {
	l.acquireWrite(true)
}

func (l *Lock) acquireWrite(long bool) {
	l.mu.Lock()
	l.init()
	l.waitingWriters++
	if long {
		l.longWaiting++
	}
	for l.writer || l.readers > 0 {
		l.cond.Wait()
	}
	l.waitingWriters--
	if long {
		l.longWaiting--
		l.longHeld = true
	}
	l.writer = true
	l.mu.Unlock()
}

// TryWrite acquires the lock exclusively without blocking. It reports
// whether the acquisition succeeded.
func (l *Lock) TryWrite() bool {
	l.mu.Lock()
	l.init()
	if l.writer || l.readers > 0 {
		l.mu.Unlock()
		return false
	}
	l.writer = true
	l.mu.Unlock()
	return true
}

// ReleaseWrite releases an exclusive acquisition.
func (l *Lock) ReleaseWrite() {
	l.mu.Lock()
	l.init()
	if !l.writer {
		l.mu.Unlock()
		panic("mrsw: ReleaseWrite without matching Write")
	}
	l.writer = false
	l.longHeld = false
	l.cond.Broadcast()
	l.mu.Unlock()
}

// WriteToRead downgrades an exclusive acquisition to a read acquisition
// without letting another writer in between. The caller continues under
// ReleaseRead.
func (l *Lock) WriteToRead() {
	l.mu.Lock()
	l.init()
	if !l.writer {
		l.mu.Unlock()
		panic("mrsw: WriteToRead without matching Write")
	}
	l.writer = false
	l.longHeld = false
	l.readers++
	l.cond.Broadcast()
	l.mu.Unlock()
}

// Release releases whichever acquisition the lock currently records: the
// writer if one is active, otherwise one reader.
func (l *Lock) Release() {
	l.mu.Lock()
	writer := l.writer
	l.mu.Unlock()
	if writer {
		l.ReleaseWrite()
	} else {
		l.ReleaseRead()
	}
}
