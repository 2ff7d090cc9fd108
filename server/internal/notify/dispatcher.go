package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hostwatch/hostwatch/server/internal/alerts"
)

// Channel delivers an alert to one destination.
type Channel interface {
	// Name identifies the channel in logs and reports.
	Name() string
	// Send delivers a and reports success. Transport errors are reported as
	// false, never returned.
	Send(ctx context.Context, a alerts.Alert) bool
}

// Report maps channel name to delivery success. When several channels share a
// name, the later ones are keyed "name#index" so no outcome is lost.
type Report map[string]bool

// Delivered returns the number of channels that accepted the alert.
func (r Report) Delivered() int {
	n := 0
	for _, ok := range r {
		if ok {
			n++
		}
	}
	return n
}

// Dispatcher fans alerts out to channels. It is safe for concurrent use.
type Dispatcher struct {
	logger *slog.Logger

	mu              sync.RWMutex
	channels        []Channel
	notifyOnResolve bool
}

// NewDispatcher returns a Dispatcher sending to channels. A nil logger uses
// slog.Default().
func NewDispatcher(logger *slog.Logger, channels ...Channel) *Dispatcher {
	return &Dispatcher{
		logger:   loggerOrDefault(logger),
		channels: append([]Channel(nil), channels...),
	}
}

// AddChannel registers another channel.
func (d *Dispatcher) AddChannel(ch Channel) {
	d.mu.Lock()
	d.channels = append(d.channels, ch)
	d.mu.Unlock()
}

// SetChannels replaces all channels, used on config reload.
func (d *Dispatcher) SetChannels(chs []Channel) {
	d.mu.Lock()
	d.channels = append([]Channel(nil), chs...)
	d.mu.Unlock()
}

// SetNotifyOnResolve controls whether Notify forwards resolution notices.
func (d *Dispatcher) SetNotifyOnResolve(v bool) {
	d.mu.Lock()
	d.notifyOnResolve = v
	d.mu.Unlock()
}

// Notify implements alerts.Notifier.
func (d *Dispatcher) Notify(ctx context.Context, a alerts.Alert) {
	d.mu.RLock()
	onResolve := d.notifyOnResolve
	d.mu.RUnlock()

	if a.Resolved && !onResolve {
		return
	}
	d.Dispatch(ctx, a)
}

// Dispatch sends a to every channel concurrently and waits for all of them.
// It never fails; per-channel outcomes are returned in the Report.
func (d *Dispatcher) Dispatch(ctx context.Context, a alerts.Alert) Report {
	d.mu.RLock()
	chs := append([]Channel(nil), d.channels...)
	d.mu.RUnlock()

	results := make([]bool, len(chs))
	var wg sync.WaitGroup
	for i, ch := range chs {
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			results[i] = d.send(ctx, ch, a)
		}(i, ch)
	}
	wg.Wait()

	report := make(Report, len(chs))
	for i, ch := range chs {
		key := ch.Name()
		if _, dup := report[key]; dup {
			key = fmt.Sprintf("%s#%d", key, i)
		}
		report[key] = results[i]
	}
	return report
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, a alerts.Alert) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notify: channel panicked",
				"channel", ch.Name(), "alert_id", a.ID, "err", fmt.Errorf("%v", r))
			ok = false
		}
	}()

	ok = ch.Send(ctx, a)
	if ok {
		d.logger.Debug("notify: delivered", "channel", ch.Name(), "alert_id", a.ID)
	} else {
		d.logger.Error("notify: delivery failed", "channel", ch.Name(), "alert_id", a.ID)
	}
	return ok
}
