package mrsw

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMultipleReaders(t *testing.T) {
	var l Lock
	l.Read()
	l.Read()
	l.ReleaseRead()
	l.ReleaseRead()
}

func TestTryWrite(t *testing.T) {
	var l Lock
	if !l.TryWrite() {
		t.Fatal("TryWrite on idle lock = false")
	}
	if l.TryWrite() {
		t.Fatal("TryWrite while held = true")
	}
	l.ReleaseWrite()

	l.Read()
	if l.TryWrite() {
		t.Fatal("TryWrite with active reader = true")
	}
	l.ReleaseRead()
}

func TestWriteExcludesReaders(t *testing.T) {
	var l Lock
	l.Write()

	var got int32
	done := make(chan struct{})
	go func() {
		l.Read()
		atomic.StoreInt32(&got, 1)
		l.ReleaseRead()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	if atomic.LoadInt32(&got) != 0 {
		t.Fatal("reader acquired lock while writer held")
	}
	l.ReleaseWrite()
	<-done
}

func TestWriteToRead(t *testing.T) {
	var l Lock
	l.Write()
	l.WriteToRead()

	// Another reader must be admitted after the downgrade.
	ok := make(chan struct{})
	go func() {
		l.Read()
		l.ReleaseRead()
		close(ok)
	}()
	select {
	case <-ok:
	case <-time.After(time.Second):
		t.Fatal("reader blocked after WriteToRead")
	}

	// But a writer must not.
	if l.TryWrite() {
		t.Fatal("TryWrite succeeded while downgraded read held")
	}
	l.ReleaseRead()
}

func TestReadShortAbortsOnLongWriter(t *testing.T) {
	var l Lock
	l.Read()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.WriteLong()
		l.ReleaseWrite()
	}()

	// Wait for the long writer to queue behind our reader.
	deadline := time.Now().Add(time.Second)
	for {
		l.mu.Lock()
		queued := l.longWaiting > 0
		l.mu.Unlock()
		if queued {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("long writer never queued")
		}
		time.Sleep(time.Millisecond)
	}

	if l.ReadShort() {
		t.Fatal("ReadShort succeeded with long writer queued")
	}
	l.ReleaseRead()
	wg.Wait()

	if !l.ReadShort() {
		t.Fatal("ReadShort failed on idle lock")
	}
	l.ReleaseRead()
}

func TestReleaseAutoDetect(t *testing.T) {
	var l Lock
	l.Write()
	l.Release()
	l.Read()
	l.Release()
	if !l.TryWrite() {
		t.Fatal("lock not idle after auto releases")
	}
	l.ReleaseWrite()
}
