package jwt

import (
	"sort"
	"sync"

	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/vyrodovalexey/avauthn/internal/observability"
)

// Keyring merges the key sets of several named sources and publishes
// the union to a TrustedKeys holder. A source update that produces an
// invalid union is rejected and the previous snapshot stays published.
type Keyring struct {
	trusted *TrustedKeys
	logger  observability.Logger
	metrics *Metrics

	mu   sync.Mutex
	sets map[string]jwk.Set
}

// NewKeyring creates a keyring publishing into trusted.
func NewKeyring(trusted *TrustedKeys, logger observability.Logger, metrics *Metrics) *Keyring {
	if trusted == nil {
		trusted = NewTrustedKeys()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Keyring{
		trusted: trusted,
		logger:  logger,
		metrics: metrics,
		sets:    make(map[string]jwk.Set),
	}
}

// Update replaces the key set of source and republishes.
func (k *Keyring) Update(source string, set jwk.Set) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	next := make(map[string]jwk.Set, len(k.sets)+1)
	for name, s := range k.sets {
		next[name] = s
	}
	next[source] = set

	names := make([]string, 0, len(next))
	for name := range next {
		names = append(names, name)
	}
	sort.Strings(names)

	ordered := make([]jwk.Set, 0, len(names))
	for _, name := range names {
		ordered = append(ordered, next[name])
	}

	snap, err := NewKeySnapshot(ordered...)
	if err != nil {
		k.logger.Warn("rejected trusted key update",
			observability.String("source", source),
			observability.Error(err),
		)
		return err
	}

	if err := k.trusted.Publish(snap); err != nil {
		return err
	}
	k.sets = next

	if k.metrics != nil {
		k.metrics.SetTrustedKeys(snap.Len())
	}
	k.logger.Info("published trusted keys",
		observability.String("source", source),
		observability.Int("keyCount", snap.Len()),
		observability.Strings("kids", snap.KeyIDs()),
	)
	return nil
}

// Snapshot implements KeySource.
func (k *Keyring) Snapshot() *KeySnapshot {
	return k.trusted.Snapshot()
}

// Trusted returns the underlying holder.
func (k *Keyring) Trusted() *TrustedKeys {
	return k.trusted
}

var _ KeySource = (*Keyring)(nil)
