package socket

import (
	"fmt"

	"github.com/mongopool/pool/internal/mongoauth"
)

// Reconcile brings this socket's authenticated set in line with want,
// logging out sources no longer wanted and logging in sources not yet
// authenticated: authset - want is logged out, want - authset is logged in.
// A source whose credential changed is logged out and logged in again.
func (r *Record) Reconcile(want map[string]mongoauth.Credential) error {
	r.mu.Lock()
	current := make(map[string]mongoauth.Credential, len(r.authset))
	for k, v := range r.authset {
		current[k] = v
	}
	r.mu.Unlock()

	if credsEqual(current, want) {
		return nil
	}

	for source, have := range current {
		if w, stillWanted := want[source]; !stillWanted || w != have {
			if err := mongoauth.Logout(r, source); err != nil {
				return fmt.Errorf("socket: logout %q: %w", source, err)
			}
			r.mu.Lock()
			delete(r.authset, source)
			r.mu.Unlock()
		}
	}

	for source, cred := range want {
		if have, alreadyIn := current[source]; alreadyIn && have == cred {
			continue
		}
		if err := mongoauth.Login(r, cred); err != nil {
			return fmt.Errorf("socket: login %q: %w", source, err)
		}
		r.mu.Lock()
		r.authset[source] = cred
		r.mu.Unlock()
	}
	return nil
}

func credsEqual(a, b map[string]mongoauth.Credential) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || av != bv {
			return false
		}
	}
	return true
}
