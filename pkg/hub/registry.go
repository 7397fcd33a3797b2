package hub

import (
	"sort"
	"sync"

	"github.com/HMasataka/beacon/pkg/domain"
	"github.com/jonboulle/clockwork"
	"github.com/rs/xid"
	"golang.org/x/time/rate"
)

// Recipient is one enumerated registry entry
type Recipient struct {
	ID   string
	Info domain.ClientInfo
	Conn domain.Conn
}

type entry struct {
	info    domain.ClientInfo
	conn    domain.Conn
	limiter *rate.Limiter
}

// RegistryOptions represents registry options
type RegistryOptions struct {
	Clock        clockwork.Clock
	InboundRate  float64
	InboundBurst int
}

// Registry tracks live connections and their metadata. All methods are safe
// for concurrent use; Get and enumeration return copies that share no memory
// with the registry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	clock   clockwork.Clock
	rate    rate.Limit
	burst   int
}

// NewRegistry creates a new registry
func NewRegistry(options RegistryOptions) *Registry {
	if options.Clock == nil {
		options.Clock = clockwork.NewRealClock()
	}

	limit := rate.Inf
	if options.InboundRate > 0 {
		limit = rate.Limit(options.InboundRate)
	}

	return &Registry{
		entries: make(map[string]*entry),
		clock:   options.Clock,
		rate:    limit,
		burst:   options.InboundBurst,
	}
}

// Register stores conn with default metadata and returns its new id
func (r *Registry) Register(conn domain.Conn) string {
	id := xid.New().String()
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[id] = &entry{
		info: domain.ClientInfo{
			ID:          id,
			ConnectedAt: now,
			LastSeenAt:  now,
		},
		conn:    conn,
		limiter: rate.NewLimiter(r.rate, r.burst),
	}

	return id
}

// UpdateMetadata merges reg into the entry. It reports false when the client
// is gone.
func (r *Registry) UpdateMetadata(id string, reg domain.Registration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false
	}

	e.info = e.info.Merge(reg)
	return true
}

// Touch sets lastSeenAt to now
func (r *Registry) Touch(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false
	}

	e.info.LastSeenAt = r.clock.Now()
	return true
}

// Allow consumes one inbound message token for id
func (r *Registry) Allow(id string) bool {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()

	if !ok {
		return false
	}
	return e.limiter.Allow()
}

// Remove deletes the entry and closes its connection. Only the call that
// actually removed the entry returns true.
func (r *Registry) Remove(id string, code int, reason string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	_ = e.conn.Close(code, reason)
	return true
}

// Clear removes every entry, closing each connection, and returns how many
// were removed
func (r *Registry) Clear(code int, reason string) int {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		_ = e.conn.Close(code, reason)
	}

	return len(entries)
}

// Get returns a snapshot of one entry
func (r *Registry) Get(id string) (domain.ClientInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return domain.ClientInfo{}, false
	}
	return e.info.Clone(), true
}

// Conn returns the connection of one entry
func (r *Registry) Conn(id string) (domain.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Count returns the number of registered connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// All returns a snapshot of every entry
func (r *Registry) All() []Recipient {
	return r.filter(func(domain.ClientInfo) bool { return true })
}

// Matching returns a snapshot of the entries satisfying criteria
func (r *Registry) Matching(criteria domain.TargetCriteria) []Recipient {
	return r.filter(criteria.Matches)
}

// Infos returns the metadata of every entry ordered by connection time
func (r *Registry) Infos() []domain.ClientInfo {
	recipients := r.All()

	infos := make([]domain.ClientInfo, 0, len(recipients))
	for _, rc := range recipients {
		infos = append(infos, rc.Info)
	}
	return infos
}

func (r *Registry) filter(keep func(domain.ClientInfo) bool) []Recipient {
	r.mu.RLock()
	out := make([]Recipient, 0, len(r.entries))
	for id, e := range r.entries {
		if keep(e.info) {
			out = append(out, Recipient{ID: id, Info: e.info.Clone(), Conn: e.conn})
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Info.ConnectedAt.Equal(out[j].Info.ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].Info.ConnectedAt.Before(out[j].Info.ConnectedAt)
	})

	return out
}
