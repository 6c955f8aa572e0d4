package heartbeat

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	StateStarting = "starting"
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateDisabled = "disabled"
	StateStopped  = "stopped"
	StateStale    = "stale"
)

// OverallIdle is reported when every component is disabled or stopped.
const OverallIdle = "idle"

// Well-known components. Connectors register as ConnectorComponent(name).
const (
	ComponentRuntime  = "runtime"
	ComponentAPI      = "api"
	ComponentTracker  = "tracker"
	ComponentProjects = "tracker-projects"
)

func ConnectorComponent(name string) string {
	return "connector:" + normalizeComponent(name)
}

type Reporter interface {
	Starting(component, message string)
	Beat(component, message string)
	Degrade(component, message string, err error)
	Disabled(component, message string)
	Stopped(component, message string)
}

type ComponentStatus struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	BaseState      string `json:"base_state"`
	Message        string `json:"message,omitempty"`
	Error          string `json:"error,omitempty"`
	LastBeatAtUnix int64  `json:"last_beat_at_unix,omitempty"`
	UpdatedAtUnix  int64  `json:"updated_at_unix"`
	Stale          bool   `json:"stale,omitempty"`
	// EventDriven components report only when traffic reaches them and never go stale.
	EventDriven         bool `json:"event_driven,omitempty"`
	ConsecutiveFailures int  `json:"consecutive_failures,omitempty"`
}

type Snapshot struct {
	GeneratedAtUnix int64             `json:"generated_at_unix"`
	Overall         string            `json:"overall"`
	Components      []ComponentStatus `json:"components"`
}

type component struct {
	state       string
	message     string
	errorText   string
	beatAt      time.Time
	changedAt   time.Time
	eventDriven bool
	failures    int
}

// Registry holds the last reported state of every runtime component. Loop components (connectors,
// scheduler, HTTP API) beat periodically and turn stale when they stop. The tracker is event driven:
// each fetch outcome is observed and an outage degrades it until the next successful fetch.
type Registry struct {
	mu         sync.RWMutex
	components map[string]*component
	now        func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		components: map[string]*component{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) Starting(name, message string) {
	r.update(name, func(item *component, now time.Time) {
		item.state = StateStarting
		item.message = strings.TrimSpace(message)
		item.errorText = ""
	})
}

func (r *Registry) Beat(name, message string) {
	r.update(name, func(item *component, now time.Time) {
		item.state = StateHealthy
		item.message = strings.TrimSpace(message)
		item.errorText = ""
		item.failures = 0
		item.beatAt = now
	})
}

func (r *Registry) Degrade(name, message string, err error) {
	r.update(name, func(item *component, now time.Time) {
		item.state = StateDegraded
		item.message = strings.TrimSpace(message)
		item.errorText = errorString(err)
		item.failures++
	})
}

func (r *Registry) Disabled(name, message string) {
	r.update(name, func(item *component, now time.Time) {
		item.state = StateDisabled
		item.message = strings.TrimSpace(message)
		item.errorText = ""
	})
}

func (r *Registry) Stopped(name, message string) {
	r.update(name, func(item *component, now time.Time) {
		item.state = StateStopped
		item.message = strings.TrimSpace(message)
		item.errorText = ""
	})
}

// Observe records the outcome of one request against an event-driven component. A nil err means the
// component answered; a non-nil err is an outage and degrades it until the next successful outcome.
func (r *Registry) Observe(name, message string, err error) {
	r.update(name, func(item *component, now time.Time) {
		item.eventDriven = true
		item.message = strings.TrimSpace(message)
		if err == nil {
			item.state = StateHealthy
			item.errorText = ""
			item.failures = 0
			item.beatAt = now
			return
		}
		item.state = StateDegraded
		item.errorText = errorString(err)
		item.failures++
	})
}

func (r *Registry) update(name string, apply func(item *component, now time.Time)) {
	name = normalizeComponent(name)
	if name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	item, ok := r.components[name]
	if !ok {
		item = &component{beatAt: now}
		r.components[name] = item
	}
	apply(item, now)
	item.changedAt = now
}

// Snapshot reports every component, sorted by name. Loop components whose last beat is older than
// staleAfter are reported stale; a zero staleAfter disables that check.
func (r *Registry) Snapshot(staleAfter time.Duration) Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()

	results := make([]ComponentStatus, 0, len(r.components))
	for name, item := range r.components {
		status := ComponentStatus{
			Name:                name,
			State:               item.state,
			BaseState:           item.state,
			Message:             item.message,
			Error:               item.errorText,
			UpdatedAtUnix:       item.changedAt.Unix(),
			EventDriven:         item.eventDriven,
			ConsecutiveFailures: item.failures,
		}
		if !item.beatAt.IsZero() {
			status.LastBeatAtUnix = item.beatAt.Unix()
		}
		if staleAfter > 0 && !item.eventDriven && expectsBeats(item.state) && now.Sub(item.beatAt) > staleAfter {
			status.State = StateStale
			status.Stale = true
		}
		results = append(results, status)
	}
	sort.Slice(results, func(left, right int) bool {
		return results[left].Name < results[right].Name
	})

	return Snapshot{
		GeneratedAtUnix: now.Unix(),
		Overall:         overallState(results),
		Components:      results,
	}
}

func IsDegradedState(state string) bool {
	state = strings.ToLower(strings.TrimSpace(state))
	return state == StateDegraded || state == StateStale
}

func expectsBeats(state string) bool {
	return state == StateHealthy || state == StateStarting
}

// overallState is degraded if anything is degraded, starting while anything starts, idle when nothing
// runs, and healthy otherwise.
func overallState(items []ComponentStatus) string {
	if len(items) == 0 {
		return "unknown"
	}
	counts := map[string]int{}
	for _, item := range items {
		if IsDegradedState(item.State) {
			return StateDegraded
		}
		counts[item.State]++
	}
	switch {
	case counts[StateStarting] > 0:
		return StateStarting
	case counts[StateHealthy] > 0:
		return StateHealthy
	default:
		return OverallIdle
	}
}

func normalizeComponent(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}
