package wake

import (
	"context"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/cofounder/internal/engine"
)

// ScheduleHook sets a gate when the sleeping run's wake time arrives, so a
// session resumes at budget renewal without an outside scheduler.
type ScheduleHook struct {
	engine.NopHook

	gate  *Gate
	now   func() time.Time
	mu    sync.Mutex
	timer *time.Timer
}

func NewScheduleHook(gate *Gate) *ScheduleHook {
	return &ScheduleHook{gate: gate, now: time.Now}
}

func (h *ScheduleHook) OnSleep(_ context.Context, _ *engine.RunState, wakeAt time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
	d := wakeAt.Sub(h.now())
	if d < 0 {
		d = 0
	}
	h.timer = time.AfterFunc(d, h.gate.Set)
}

func (h *ScheduleHook) OnWake(context.Context, *engine.RunState) { h.stop() }

func (h *ScheduleHook) OnDone(context.Context, *engine.RunState, engine.RunResult) { h.stop() }

func (h *ScheduleHook) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
}

func (h *ScheduleHook) stopLocked() {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}
