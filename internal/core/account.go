package core

import (
	"bytes"
	"sort"
	"sync"

	"CurieLedger/internal/ledger"
	"CurieLedger/internal/state"
)

// accountSlot owns one account. mu is held for the whole
// mutate -> validate -> commit -> emit cycle of an operation. acct is the
// committed state and is replaced, never mutated, on commit, so readers may
// use a loaded pointer without holding mu.
type accountSlot struct {
	mu   sync.Mutex
	view sync.RWMutex
	acct *state.Account
}

func (s *accountSlot) load() *state.Account {
	s.view.RLock()
	defer s.view.RUnlock()
	return s.acct
}

func (s *accountSlot) store(acct *state.Account) {
	s.view.Lock()
	s.acct = acct
	s.view.Unlock()
}

type accountStore struct {
	mu    sync.RWMutex
	slots map[ledger.AccountID]*accountSlot
}

func newAccountStore() *accountStore {
	return &accountStore{slots: make(map[ledger.AccountID]*accountSlot)}
}

// slot returns the account's slot, creating an empty account on first use.
func (s *accountStore) slot(id ledger.AccountID) *accountSlot {
	s.mu.RLock()
	sl, ok := s.slots[id]
	s.mu.RUnlock()
	if ok {
		return sl
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sl, ok = s.slots[id]; ok {
		return sl
	}
	sl = &accountSlot{acct: state.NewAccount(id)}
	s.slots[id] = sl
	return sl
}

// get returns the committed account, or an empty one for unknown ids.
func (s *accountStore) get(id ledger.AccountID) *state.Account {
	s.mu.RLock()
	sl, ok := s.slots[id]
	s.mu.RUnlock()
	if !ok {
		return state.NewAccount(id)
	}
	return sl.load()
}

func (s *accountStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

// ids returns every account id in byte order.
func (s *accountStore) ids() []ledger.AccountID {
	s.mu.RLock()
	out := make([]ledger.AccountID, 0, len(s.slots))
	for id := range s.slots {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// replace installs an account verbatim (snapshot restore and replay).
func (s *accountStore) replace(acct *state.Account) {
	s.slot(acct.ID).store(acct)
}

func (s *accountStore) reset() {
	s.mu.Lock()
	s.slots = make(map[ledger.AccountID]*accountSlot)
	s.mu.Unlock()
}
