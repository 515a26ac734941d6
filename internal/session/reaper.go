package session

import "time"

// DefaultReapGrace is how long a session may sit with its push channel
// detached before it is destroyed. Mirrors spec.md §3's lifecycle: a
// session is reaped once its channel has closed (access is already
// released by the disconnect hook that detaches it) and no request has
// referenced it for this grace period.
const DefaultReapGrace = 5 * time.Minute

// StartReaper launches a background sweep that destroys stale sessions
// once a minute, using grace as the idle threshold. Mirrors the cadence
// of access.Coordinator's liveness loop.
func (reg *Registry) StartReaper(grace time.Duration) {
	reg.reaperWG.Add(1)
	go reg.reaperLoop(grace)
}

// StopReaper halts the background sweep and waits for it to exit.
func (reg *Registry) StopReaper() {
	close(reg.reaperStop)
	reg.reaperWG.Wait()
}

func (reg *Registry) reaperLoop(grace time.Duration) {
	defer reg.reaperWG.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-reg.reaperStop:
			return
		case <-ticker.C:
			reg.ReapStale(grace)
		}
	}
}

// ReapStale destroys every session that has no attached push channel
// and has not been touched in at least grace, returning the count
// destroyed.
func (reg *Registry) ReapStale(grace time.Duration) int {
	now := time.Now()

	reg.mu.RLock()
	var stale []string
	for id, s := range reg.sessions {
		if !s.attached && now.Sub(s.lastSeenAt) >= grace {
			stale = append(stale, id)
		}
	}
	reg.mu.RUnlock()

	for _, id := range stale {
		reg.Destroy(id)
	}
	return len(stale)
}
