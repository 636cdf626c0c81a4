package libltfs

import (
	"log"
	"sync"
	"time"

	ltfs "github.com/LinearTapeFileSystem/ltfs-go"
)

// periodicSync is the timer thread flushing the index on a fixed
// period. Shutdown is cooperative: clear keepalive, signal, join.
type periodicSync struct {
	mu        sync.Mutex
	cond      *sync.Cond
	keepalive bool
	periodSec int
	vol       *Volume
	done      chan struct{}
}

func newPeriodicSync(periodSec int, vol *Volume) *periodicSync {
	p := &periodicSync{
		keepalive: true,
		periodSec: periodSec,
		vol:       vol,
		done:      make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.run()
	return p
}

func (p *periodicSync) run() {
	defer close(p.done)
	p.mu.Lock()
	for p.keepalive {
		p.wait()
		if !p.keepalive {
			break
		}
		if p.vol.MountType() != ltfs.MountRW {
			// Never sync on a read-only mount.
			continue
		}
		p.mu.Unlock()

		log.Printf("periodic sync")
		if p.vol.sched != nil {
			if err := p.vol.sched.Flush(nil); err != nil {
				log.Printf("periodic sync: flush: %v", err)
			}
		}
		p.vol.SetCommitMessageReason(ltfs.SyncPeriodic)
		err := p.vol.SyncIndex(ltfs.SyncPeriodic)

		p.mu.Lock()
		if err != nil {
			// A failing sync ends the thread; the next explicit sync
			// will surface the error to the operator.
			log.Printf("periodic sync failed, stopping: %v", err)
			p.keepalive = false
		}
	}
	p.mu.Unlock()
	log.Printf("periodic sync stopped")
}

// wait sleeps one period or until signalled, under p.mu.
func (p *periodicSync) wait() {
	deadline := time.Now().Add(time.Duration(p.periodSec) * time.Second)
	timer := time.AfterFunc(time.Duration(p.periodSec)*time.Second, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer timer.Stop()
	for p.keepalive && time.Now().Before(deadline) {
		p.cond.Wait()
	}
}

func (p *periodicSync) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keepalive
}

func (p *periodicSync) stop() {
	p.mu.Lock()
	p.keepalive = false
	p.cond.Broadcast()
	p.mu.Unlock()
	<-p.done
}
