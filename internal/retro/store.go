package retro

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

const createAttempts = 8

var errCodeSpaceExhausted = errors.New("retro: could not allocate an unused session code")

// DefaultSectionNames are the sections every new session starts with.
var DefaultSectionNames = []string{
	"What went well",
	"What went wrong",
	"What could be improved",
}

// held pairs a session with the lock that serializes its mutations.
type held struct {
	mu      sync.Mutex
	session *Session
}

// Store owns every session this instance holds, keyed by code. It never
// mutates session contents itself; callers lock the held entry for that.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*held
	newCode  func() string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*held),
		newCode:  NewCode,
	}
}

func emptyView(code string, createdAt int64, voteLimit int) ClientView {
	sections := make([]Section, 0, len(DefaultSectionNames))
	for i, name := range DefaultSectionNames {
		sections = append(sections, Section{ID: uuid.NewString(), Name: name, Order: i})
	}
	return ClientView{
		Code:         code,
		CreatedAt:    createdAt,
		VoteLimit:    voteLimit,
		Stage:        StageAddNotes,
		Sections:     sections,
		Notes:        map[string]Note{},
		Groups:       map[string]*Group{},
		Participants: map[string]Participant{},
		Votes:        map[string]map[string]int{},
		Dones:        map[string]bool{},
	}
}

// Create initializes a session and returns its code and host secret. A code
// that collides with a locally held session is regenerated.
func (st *Store) Create(voteLimit int, now time.Time) (code, hostSecret string, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for range createAttempts {
		code = st.newCode()
		if _, taken := st.sessions[code]; !taken {
			break
		}
		code = ""
	}
	if code == "" {
		return "", "", errCodeSpaceExhausted
	}

	hostSecret = newHostSecret()
	st.sessions[code] = &held{session: &Session{
		ClientView: emptyView(code, now.UnixMilli(), voteLimit),
		HostSecret: hostSecret,
	}}
	return code, hostSecret, nil
}

// get returns the held entry for code, or nil.
func (st *Store) get(code string) *held {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.sessions[code]
}

// Has reports whether the session is held locally.
func (st *Store) Has(code string) bool {
	return st.get(code) != nil
}

// ProjectClientSafe returns a copy of the session without its host secret.
func (st *Store) ProjectClientSafe(code string) (*ClientView, bool) {
	h := st.get(code)
	if h == nil {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session.ClientView.Clone(), true
}

// hydrate installs a session learned from a peer. It returns the new entry,
// or nil if the code is already held.
func (st *Store) hydrate(code string, view *ClientView, verifier string) *held {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[code]; ok {
		return nil
	}
	cv := view.Clone()
	cv.Code = code
	h := &held{session: &Session{ClientView: *cv, HostVerifier: verifier}}
	st.sessions[code] = h
	return h
}

// Len returns the number of sessions held.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
