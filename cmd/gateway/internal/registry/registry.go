// Package registry is the source of truth for which tickers each user
// watches. It never talks to connections; the hub mirrors its changes.
package registry

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-pulse/pkg/models"
)

var (
	ErrInvalidIdentity       = errors.New("valid email is required")
	ErrUnknownUser           = errors.New("user not found")
	ErrUnsupportedInstrument = errors.New("stock not supported")
)

// ValidateIdentity rejects keys that cannot be an email address.
func ValidateIdentity(userKey string) error {
	if userKey == "" || !strings.Contains(userKey, "@") {
		return ErrInvalidIdentity
	}
	return nil
}

type Registry struct {
	logger    *zap.Logger
	supported []string
	universe  map[string]struct{}

	mu    sync.RWMutex
	users map[string]map[string]struct{}

	onChange func()
}

func New(tickers []string, logger *zap.Logger) *Registry {
	universe := make(map[string]struct{}, len(tickers))
	for _, t := range tickers {
		universe[t] = struct{}{}
	}
	return &Registry{
		logger:    logger,
		supported: append([]string(nil), tickers...),
		universe:  universe,
		users:     make(map[string]map[string]struct{}),
		onChange:  func() {},
	}
}

// OnChange installs the callback fired after every mutation, outside the lock.
// It must not block; the persister's MarkDirty is the intended target.
func (r *Registry) OnChange(fn func()) {
	r.onChange = fn
}

// Supported returns the fixed universe in configuration order.
func (r *Registry) Supported() []string {
	return append([]string(nil), r.supported...)
}

func (r *Registry) IsSupported(ticker string) bool {
	_, ok := r.universe[ticker]
	return ok
}

// Login returns the user's watchlist, creating an empty one for unseen keys.
func (r *Registry) Login(userKey string) []string {
	r.mu.Lock()
	subs, ok := r.users[userKey]
	if !ok {
		subs = make(map[string]struct{})
		r.users[userKey] = subs
	}
	out := sortedKeys(subs)
	r.mu.Unlock()

	if !ok {
		r.logger.Info("User created", zap.String("email", userKey))
		r.onChange()
	}
	return out
}

// Subscribe adds ticker to the user's set. changed is false when it was
// already present.
func (r *Registry) Subscribe(userKey, ticker string) (subs []string, changed bool, err error) {
	if !r.IsSupported(ticker) {
		return nil, false, ErrUnsupportedInstrument
	}

	r.mu.Lock()
	set, ok := r.users[userKey]
	if !ok {
		r.mu.Unlock()
		return nil, false, ErrUnknownUser
	}
	if _, exists := set[ticker]; !exists {
		set[ticker] = struct{}{}
		changed = true
	}
	subs = sortedKeys(set)
	r.mu.Unlock()

	if changed {
		r.onChange()
	}
	return subs, changed, nil
}

// Unsubscribe removes ticker from the user's set. Removing an absent ticker
// is a no-op, not an error.
func (r *Registry) Unsubscribe(userKey, ticker string) (subs []string, changed bool, err error) {
	r.mu.Lock()
	set, ok := r.users[userKey]
	if !ok {
		r.mu.Unlock()
		return nil, false, ErrUnknownUser
	}
	if _, exists := set[ticker]; exists {
		delete(set, ticker)
		changed = true
	}
	subs = sortedKeys(set)
	r.mu.Unlock()

	if changed {
		r.onChange()
	}
	return subs, changed, nil
}

// Subscriptions reports the user's current set and whether the user exists.
func (r *Registry) Subscriptions(userKey string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.users[userKey]
	if !ok {
		return nil, false
	}
	return sortedKeys(set), true
}

// Users returns the number of known users.
func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Snapshot returns the full state in persisted form, ordered by email.
func (r *Registry) Snapshot() []models.UserRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]models.UserRecord, 0, len(r.users))
	for email, set := range r.users {
		records = append(records, models.UserRecord{Email: email, Subscriptions: sortedKeys(set)})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Email < records[j].Email })
	return records
}

// Restore replaces the registry contents with previously persisted records.
// Tickers outside the universe are dropped.
func (r *Registry) Restore(records []models.UserRecord) {
	users := make(map[string]map[string]struct{}, len(records))
	for _, rec := range records {
		set := make(map[string]struct{}, len(rec.Subscriptions))
		for _, t := range rec.Subscriptions {
			if !r.IsSupported(t) {
				r.logger.Warn("Dropping unsupported ticker from stored watchlist",
					zap.String("email", rec.Email), zap.String("ticker", t))
				continue
			}
			set[t] = struct{}{}
		}
		users[rec.Email] = set
	}

	r.mu.Lock()
	r.users = users
	r.mu.Unlock()
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
