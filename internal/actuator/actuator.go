// Package actuator is the reference actuator poller: it pulls the desired
// state from the coordinator on a fixed interval and drives the relay.
package actuator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sweeney/smartfan/internal/gpio"
	"github.com/sweeney/smartfan/internal/logic"
)

// DefaultTimeout bounds a single desired-state read.
const DefaultTimeout = 2 * time.Second

// Reader reads the coordinator's desired state.
type Reader interface {
	ReadDesired(ctx context.Context) (logic.State, error)
}

// Stats counts poller activity since startup.
type Stats struct {
	Reads      int
	ReadErrors int
	Writes     int
	Applied    logic.State // last value written to the relay; "" before the first write
}

// Poller applies the desired state to a relay. A read failure keeps the
// prior output; a repeated value performs no hardware write.
type Poller struct {
	reader  Reader
	relay   gpio.Relay
	timeout time.Duration
	log     *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates a Poller. timeout <= 0 uses DefaultTimeout.
func New(reader Reader, relay gpio.Relay, timeout time.Duration, log *slog.Logger) *Poller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{reader: reader, relay: relay, timeout: timeout, log: log}
}

// Run polls once immediately and then on every tick until ctx is done.
// On exit the relay is driven off.
func (p *Poller) Run(ctx context.Context, tick <-chan time.Time) error {
	p.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			p.shutdown()
			return nil
		case <-tick:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce performs one read and applies the result if it changed.
func (p *Poller) PollOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	desired, err := p.reader.ReadDesired(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Reads++
	if err != nil {
		p.stats.ReadErrors++
		p.log.Warn("read desired state failed, keeping output", "applied", p.stats.Applied, "error", err)
		return
	}
	if desired == p.stats.Applied {
		return
	}
	if err := p.relay.Set(desired == logic.StateOn); err != nil {
		p.log.Error("drive relay failed", "desired", desired, "error", err)
		return
	}
	p.log.Info("relay switched", "from", p.stats.Applied, "to", desired)
	p.stats.Applied = desired
	p.stats.Writes++
}

func (p *Poller) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stats.Applied == logic.StateOff {
		return
	}
	if err := p.relay.Set(false); err != nil {
		p.log.Error("drive relay off on shutdown failed", "error", err)
		return
	}
	p.stats.Applied = logic.StateOff
	p.stats.Writes++
}

// Stats returns a copy of the poller counters.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
