package mongopool

import "time"

// StartStatsLoop periodically invokes report with a Stats snapshot.
func (p *Pool) StartStatsLoop(interval time.Duration, report func(Stats)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				report(p.Stats())
			}
		}
	}()
}
