package ledger

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Set names one independent collection of processed identifiers.
type Set string

const (
	// Contacts holds ServiceM8 contact uuids already mirrored to GoHighLevel.
	Contacts Set = "contacts"
	// JobsOrPayments holds ServiceM8 job or payment uuids that already fired a webhook.
	JobsOrPayments Set = "jobs_or_payments"
	// Appointments holds GoHighLevel appointment ids already booked in ServiceM8.
	Appointments Set = "appointments"
	// CorrelationKeys holds GoHighLevel contact ids or emails that already fired a webhook.
	CorrelationKeys Set = "correlation_keys"
)

// AllSets lists every known set in a stable order.
var AllSets = []Set{Contacts, JobsOrPayments, Appointments, CorrelationKeys}

var errMissingStore = errors.New("ledger: store is required")

// Snapshot is the persisted form of the ledger.
type Snapshot struct {
	LastPollMillis int64
	Sets           map[Set][]string
}

// Store persists snapshots.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snapshot Snapshot) error
}

// Config configures a Ledger.
type Config struct {
	Store  Store
	Clock  func() time.Time
	Logger *zap.Logger
}

// Ledger tracks processed identifiers. Identifiers are only ever removed by Reset.
type Ledger struct {
	mu             sync.Mutex
	saveMu         sync.Mutex
	store          Store
	clock          func() time.Time
	logger         *zap.Logger
	sets           map[Set]map[string]struct{}
	lastPollMillis int64
}

// New builds an empty Ledger; call Load to read persisted state.
func New(cfg Config) (*Ledger, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:  cfg.Store,
		clock:  clock,
		logger: logger,
		sets:   emptySets(),
	}, nil
}

// Load replaces in-memory state with the persisted snapshot. A read failure is
// logged and leaves the ledger empty, accepting possible duplicate processing.
func (l *Ledger) Load(ctx context.Context) {
	snapshot, err := l.store.Load(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sets = emptySets()
	l.lastPollMillis = 0
	if err != nil {
		l.logger.Warn("ledger load failed, starting empty", zap.Error(err))
		return
	}
	for set, ids := range snapshot.Sets {
		members := l.members(set)
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				members[id] = struct{}{}
			}
		}
	}
	l.lastPollMillis = snapshot.LastPollMillis
	l.logger.Info("ledger loaded",
		zap.Int("contacts", len(l.sets[Contacts])),
		zap.Int("jobs_or_payments", len(l.sets[JobsOrPayments])),
		zap.Int("appointments", len(l.sets[Appointments])),
		zap.Int("correlation_keys", len(l.sets[CorrelationKeys])),
	)
}

// IsProcessed reports whether id is a member of set.
func (l *Ledger) IsProcessed(set Set, id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.sets[set][strings.TrimSpace(id)]
	return ok
}

// MarkProcessed adds id to set. Empty ids are ignored.
func (l *Ledger) MarkProcessed(set Set, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.members(set)[id] = struct{}{}
}

// Count returns the size of set.
func (l *Ledger) Count(set Set) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sets[set])
}

// LastPoll returns the informational poll cursor.
func (l *Ledger) LastPoll() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lastPollMillis == 0 {
		return time.Time{}
	}
	return time.UnixMilli(l.lastPollMillis)
}

// Flush stamps the poll cursor and persists every set in one write. Only the
// poll jobs call it.
func (l *Ledger) Flush(ctx context.Context) error {
	return l.persist(ctx, func() {
		l.lastPollMillis = l.clock().UnixMilli()
	})
}

// Save persists every set and leaves the poll cursor unchanged.
func (l *Ledger) Save(ctx context.Context) error {
	return l.persist(ctx, nil)
}

// Reset clears every set and the cursor, then persists the empty ledger.
func (l *Ledger) Reset(ctx context.Context) error {
	l.logger.Warn("ledger reset")
	return l.persist(ctx, func() {
		l.sets = emptySets()
		l.lastPollMillis = 0
	})
}

// persist applies mutate under the ledger lock and writes the resulting
// snapshot. Writes are serialized so an older snapshot never lands after a
// newer one.
func (l *Ledger) persist(ctx context.Context, mutate func()) error {
	l.saveMu.Lock()
	defer l.saveMu.Unlock()

	l.mu.Lock()
	if mutate != nil {
		mutate()
	}
	snapshot := l.snapshotLocked()
	l.mu.Unlock()

	return l.store.Save(ctx, snapshot)
}

func (l *Ledger) snapshotLocked() Snapshot {
	snapshot := Snapshot{LastPollMillis: l.lastPollMillis, Sets: make(map[Set][]string, len(l.sets))}
	for set, members := range l.sets {
		ids := make([]string, 0, len(members))
		for id := range members {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		snapshot.Sets[set] = ids
	}
	return snapshot
}

func (l *Ledger) members(set Set) map[string]struct{} {
	members, ok := l.sets[set]
	if !ok {
		members = make(map[string]struct{})
		l.sets[set] = members
	}
	return members
}

func emptySets() map[Set]map[string]struct{} {
	sets := make(map[Set]map[string]struct{}, len(AllSets))
	for _, set := range AllSets {
		sets[set] = make(map[string]struct{})
	}
	return sets
}
