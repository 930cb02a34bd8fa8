// Package ledger keeps per-peer reciprocity records for one local peer: how much each remote peer
// uploaded to us in recent rounds, whether it keeps unchoking us, and the rate we estimate we must
// offer it to be reciprocated.
package ledger

import (
	"iter"

	g "github.com/anacrolix/generics"
	"github.com/google/btree"
	"github.com/pkg/errors"

	"github.com/anacrolix/reciprocity/types"
)

var ErrRoundOutOfOrder = errors.New("round observed out of order")

// The trust and rate bookkeeping for one remote peer.
type Entry struct {
	// Consecutive rounds the peer uploaded to us, saturating at Config.Threshold.
	Unchoked int
	// Rounds the peer refused us after we requested from it.
	Choked int
	// Bandwidth we estimate we must offer the peer to be reciprocated.
	Rate float64
	// Bandwidth the peer gave us the last time it was observed uploading.
	Observed float64
}

type Ledger struct {
	cfg     Config
	entries map[types.PeerId]*Entry
	index   *btree.BTreeG[types.PeerId]
	// Blocks received per source for the most recent observed rounds, oldest first.
	recent    []map[types.PeerId]int
	lastRound g.Option[int]
}

func New(cfg Config) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Ledger{
		cfg:     cfg,
		entries: make(map[types.PeerId]*Entry),
		index: btree.NewG(8, func(a, b types.PeerId) bool {
			return a < b
		}),
	}, nil
}

func (l *Ledger) Config() Config {
	return l.cfg
}

func (l *Ledger) entry(p types.PeerId) *Entry {
	if e, ok := l.entries[p]; ok {
		return e
	}
	e := &Entry{
		Rate:     l.cfg.InitialRate,
		Observed: l.cfg.InitialObserved,
	}
	l.entries[p] = e
	l.index.ReplaceOrInsert(p)
	return e
}

// Creates records for peers that don't have one yet, with the configured initial rates.
func (l *Ledger) Bootstrap(peers ...types.PeerId) {
	for _, p := range peers {
		l.entry(p)
	}
}

// Folds the downloads completed in round into the ledger. requestedFrom holds the peers we sent
// requests to in that round, those that didn't upload anything are judged to have choked us.
func (l *Ledger) Observe(round int, downloads []types.Download, requestedFrom []types.PeerId) error {
	if l.lastRound.Ok && round <= l.lastRound.Value {
		return errors.Wrapf(ErrRoundOutOfOrder, "round %d after round %d", round, l.lastRound.Value)
	}
	if l.lastRound.Ok {
		for range min(round-l.lastRound.Value-1, l.cfg.Window) {
			l.pushRound(nil)
		}
	}
	received := make(map[types.PeerId]int)
	for _, d := range downloads {
		if d.Blocks <= 0 {
			continue
		}
		received[d.From] += d.Blocks
	}
	l.pushRound(received)
	l.lastRound = g.Some(round)
	// Uploaders are visited in id order so that the result doesn't depend on map iteration.
	for _, p := range sortedKeys(received) {
		e := l.entry(p)
		if e.Unchoked < l.cfg.Threshold {
			e.Unchoked++
		} else {
			e.Unchoked = l.cfg.Threshold
			e.Rate = l.clampRate(e.Rate * (1 - l.cfg.Gamma))
		}
		e.Observed = float64(received[p])
	}
	refused := make(map[types.PeerId]struct{})
	for _, p := range requestedFrom {
		if _, ok := received[p]; ok {
			continue
		}
		if _, ok := refused[p]; ok {
			continue
		}
		refused[p] = struct{}{}
		e := l.entry(p)
		e.Unchoked = 0
		e.Choked++
		e.Rate = l.clampRate(e.Rate * (1 + l.cfg.Alpha))
	}
	return nil
}

func (l *Ledger) clampRate(r float64) float64 {
	return max(r, l.cfg.MinRate)
}

func (l *Ledger) pushRound(m map[types.PeerId]int) {
	l.recent = append(l.recent, m)
	if over := len(l.recent) - l.cfg.Window; over > 0 {
		l.recent = l.recent[over:]
	}
}

// Blocks received from p over the last window observed rounds. The window is clamped to the
// configured lookback.
func (l *Ledger) Received(p types.PeerId, window int) (ret int) {
	window = min(window, len(l.recent))
	for _, m := range l.recent[len(l.recent)-max(window, 0):] {
		ret += m[p]
	}
	return
}

func (l *Ledger) Rate(p types.PeerId) float64 {
	if e, ok := l.entries[p]; ok {
		return e.Rate
	}
	return l.cfg.InitialRate
}

func (l *Ledger) Observed(p types.PeerId) float64 {
	if e, ok := l.entries[p]; ok {
		return e.Observed
	}
	return l.cfg.InitialObserved
}

func (l *Ledger) Entry(p types.PeerId) (ret Entry, ok bool) {
	e, ok := l.entries[p]
	if ok {
		ret = *e
	}
	return
}

func (l *Ledger) Known(p types.PeerId) bool {
	_, ok := l.entries[p]
	return ok
}

func (l *Ledger) LastRound() g.Option[int] {
	return l.lastRound
}

// Known peers in id order.
func (l *Ledger) Peers() iter.Seq[types.PeerId] {
	return func(yield func(types.PeerId) bool) {
		l.index.Ascend(func(p types.PeerId) bool {
			return yield(p)
		})
	}
}

func (l *Ledger) Len() int {
	return l.index.Len()
}
