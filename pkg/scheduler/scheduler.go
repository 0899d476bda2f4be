// Package scheduler implements the Scheduler from spec.md §4.9: a
// bounded map of resident Runners with LRU-by-last-used eviction and a
// periodic keep-alive sweep. Grounded on
// original_source/src/runner/mod.rs's Scheduler (get_runner, cleanup,
// list_running, unload), translated from a tokio RwLock-guarded map
// into a sync.Mutex-guarded one per spec.md §5 ("the scheduler's own
// map is behind a separate short-lived lock; runner work never holds
// it").
package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelhost/modelhost/pkg/runner"
)

// Slot is the scheduler's record of one resident Runner (spec.md §3).
type Slot struct {
	GenerationID uuid.UUID
	Runner       *runner.Runner
	WeightsPath  string
	LoadedAt     time.Time
	LastUsed     time.Time
	KeepAlive    time.Duration
	SizeBytes    int64
	VRAMBytes    uint64 // static placeholder, see SPEC_FULL.md §12
}

// Handle is a caller's reference to a slot's runner. Acquire returns
// quickly; loading happens on first use through Ensure.
type Handle struct {
	slot *Slot
}

func (h Handle) Runner() *runner.Runner { return h.slot.Runner }

// Ensure loads the runner if it is not already ready, so the first
// generate/chat/embed on a freshly acquired handle pays the load cost
// (spec.md §4.9: "Loading itself happens on first use behind the
// handle").
func (h Handle) Ensure(template string) error {
	if h.slot.Runner.State() == runner.Ready {
		return nil
	}
	return h.slot.Runner.Load(template)
}

// Scheduler bounds the number of concurrently loaded models.
type Scheduler struct {
	mu               sync.Mutex
	slots            map[string]*Slot
	maxSlots         int
	defaultKeepAlive time.Duration
	sizeOf           func(weightsPath string) int64
}

func New(maxSlots int, defaultKeepAlive time.Duration, sizeOf func(weightsPath string) int64) *Scheduler {
	if maxSlots <= 0 {
		maxSlots = 1
	}
	return &Scheduler{
		slots:            make(map[string]*Slot),
		maxSlots:         maxSlots,
		defaultKeepAlive: defaultKeepAlive,
		sizeOf:           sizeOf,
	}
}

// Acquire implements spec.md §4.9's acquire(): return the existing
// slot for name with last_used bumped, or evict the least-recently-used
// slot (ties broken by smallest loaded_at) until there is room, then
// construct a new one. Eviction's Unload call happens after the
// scheduler lock is released.
func (s *Scheduler) Acquire(name, weightsPath string, keepAlive time.Duration) Handle {
	s.mu.Lock()

	if slot, ok := s.slots[name]; ok {
		slot.LastUsed = time.Now()
		if keepAlive > 0 {
			slot.KeepAlive = keepAlive
		}
		s.mu.Unlock()
		return Handle{slot: slot}
	}

	var evicted []*runner.Runner
	for len(s.slots) >= s.maxSlots {
		victim := s.oldestLocked()
		if victim == "" {
			break
		}
		evicted = append(evicted, s.slots[victim].Runner)
		delete(s.slots, victim)
	}

	if keepAlive <= 0 {
		keepAlive = s.defaultKeepAlive
	}
	var size int64
	if s.sizeOf != nil {
		size = s.sizeOf(weightsPath)
	}
	now := time.Now()
	slot := &Slot{
		GenerationID: uuid.New(),
		Runner:       runner.New(name, weightsPath),
		WeightsPath:  weightsPath,
		LoadedAt:     now,
		LastUsed:     now,
		KeepAlive:    keepAlive,
		SizeBytes:    size,
	}
	s.slots[name] = slot
	s.mu.Unlock()

	for _, r := range evicted {
		r.Unload()
	}
	return Handle{slot: slot}
}

// oldestLocked finds the slot with the smallest LastUsed, breaking
// ties by the smallest LoadedAt. Caller must hold s.mu.
func (s *Scheduler) oldestLocked() string {
	var name string
	var oldest *Slot
	for n, slot := range s.slots {
		if oldest == nil ||
			slot.LastUsed.Before(oldest.LastUsed) ||
			(slot.LastUsed.Equal(oldest.LastUsed) && slot.LoadedAt.Before(oldest.LoadedAt)) {
			name, oldest = n, slot
		}
	}
	return name
}

// Stop removes and unloads name's slot (spec.md §4.9, used by
// keep_alive == 0).
func (s *Scheduler) Stop(name string) {
	s.mu.Lock()
	slot, ok := s.slots[name]
	if ok {
		delete(s.slots, name)
	}
	s.mu.Unlock()

	if ok {
		slot.Runner.Unload()
	}
}

// StopAll removes and unloads every slot, for use at process shutdown.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	var all []*runner.Runner
	for name, slot := range s.slots {
		all = append(all, slot.Runner)
		delete(s.slots, name)
	}
	s.mu.Unlock()

	for _, r := range all {
		r.Unload()
	}
}

// Sweep removes every slot whose keep-alive has elapsed. Call it on a
// 10 s ticker from the entrypoint (spec.md §4.9, §5).
func (s *Scheduler) Sweep() {
	now := time.Now()
	s.mu.Lock()
	var expired []*runner.Runner
	for name, slot := range s.slots {
		if now.Sub(slot.LastUsed) > slot.KeepAlive {
			expired = append(expired, slot.Runner)
			delete(s.slots, name)
		}
	}
	s.mu.Unlock()

	for _, r := range expired {
		r.Unload()
	}
}

// RunningModel is one entry of ListRunning's result.
type RunningModel struct {
	Name      string
	SizeBytes int64
	VRAMBytes uint64
	LoadedAt  time.Time
	ExpiresAt time.Time
}

// ListRunning returns a snapshot of every resident slot for
// GET /api/ps (spec.md §4.10).
func (s *Scheduler) ListRunning() []RunningModel {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RunningModel, 0, len(s.slots))
	for name, slot := range s.slots {
		out = append(out, RunningModel{
			Name:      name,
			SizeBytes: slot.SizeBytes,
			VRAMBytes: slot.VRAMBytes,
			LoadedAt:  slot.LoadedAt,
			ExpiresAt: slot.LastUsed.Add(slot.KeepAlive),
		})
	}
	return out
}

// Count reports the number of resident slots, for the
// "|slots| <= max_slots" invariant (spec.md §8).
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
