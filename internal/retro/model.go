package retro

import "slices"

// Stage is one of the four sequential phases of a retrospective.
type Stage string

const (
	StageAddNotes    Stage = "add-notes"
	StageGrouping    Stage = "grouping"
	StageVoting      Stage = "voting"
	StageActionItems Stage = "action-items"
)

// Stages lists every stage in display order.
var Stages = []Stage{StageAddNotes, StageGrouping, StageVoting, StageActionItems}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return slices.Contains(Stages, s)
}

type Section struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

type Note struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	SectionID string `json:"sectionId"`
	CreatedBy string `json:"createdBy"`
	CreatedAt int64  `json:"createdAt"`
}

type ActionItem struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Owner string `json:"owner,omitempty"`
	Due   string `json:"due,omitempty"`
}

type Group struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	NoteIDs     []string     `json:"noteIds"`
	ActionItems []ActionItem `json:"actionItems"`
}

type Participant struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	JoinedAt int64  `json:"joinedAt"`
}

// Timer is the shared countdown. EndAt is unix milliseconds.
type Timer struct {
	Running     bool   `json:"running"`
	DurationSec *int   `json:"durationSec,omitempty"`
	EndAt       *int64 `json:"endAt,omitempty"`
}

// ClientView is the client-safe projection of a session: everything except
// the host secret. It is what viewers and peer instances receive.
type ClientView struct {
	Code         string                    `json:"code"`
	CreatedAt    int64                     `json:"createdAt"`
	VoteLimit    int                       `json:"voteLimit"`
	Stage        Stage                     `json:"stage"`
	Sections     []Section                 `json:"sections"`
	Notes        map[string]Note           `json:"notes"`
	Groups       map[string]*Group         `json:"groups"`
	Participants map[string]Participant    `json:"participants"`
	Votes        map[string]map[string]int `json:"votes"`
	Timer        Timer                     `json:"timer"`
	Dones        map[string]bool           `json:"dones"`
}

// Session is the canonical in-memory state of one retrospective.
//
// HostSecret is set on the instance that created the session. Instances that
// learned the session from a peer only hold HostVerifier.
type Session struct {
	ClientView

	HostSecret   string `json:"-"`
	HostVerifier string `json:"-"`
}

// VotesUsed returns the number of votes participantID has cast across all groups.
func (v *ClientView) VotesUsed(participantID string) int {
	total := 0
	for _, n := range v.Votes[participantID] {
		total += n
	}
	return total
}

// VotesRemaining returns how many votes participantID may still cast.
func (v *ClientView) VotesRemaining(participantID string) int {
	return max(v.VoteLimit-v.VotesUsed(participantID), 0)
}

// NotesInSection returns the notes whose section is sectionID, ordered by
// creation time. Notes of a removed section are only reachable by id.
func (v *ClientView) NotesInSection(sectionID string) []Note {
	live := slices.ContainsFunc(v.Sections, func(s Section) bool { return s.ID == sectionID })
	if !live {
		return nil
	}
	var out []Note
	for _, n := range v.Notes {
		if n.SectionID == sectionID {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, func(a, b Note) int {
		if a.CreatedAt != b.CreatedAt {
			if a.CreatedAt < b.CreatedAt {
				return -1
			}
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// Clone returns a deep copy that shares no mutable state with v.
func (v *ClientView) Clone() *ClientView {
	out := *v
	out.Sections = slices.Clone(v.Sections)
	if out.Sections == nil {
		out.Sections = []Section{}
	}

	out.Notes = make(map[string]Note, len(v.Notes))
	for id, n := range v.Notes {
		out.Notes[id] = n
	}

	out.Groups = make(map[string]*Group, len(v.Groups))
	for id, g := range v.Groups {
		if g == nil {
			continue
		}
		cp := *g
		cp.NoteIDs = append([]string{}, g.NoteIDs...)
		cp.ActionItems = append([]ActionItem{}, g.ActionItems...)
		out.Groups[id] = &cp
	}

	out.Participants = make(map[string]Participant, len(v.Participants))
	for id, p := range v.Participants {
		out.Participants[id] = p
	}

	out.Votes = make(map[string]map[string]int, len(v.Votes))
	for pid, m := range v.Votes {
		cp := make(map[string]int, len(m))
		for gid, n := range m {
			cp[gid] = n
		}
		out.Votes[pid] = cp
	}

	out.Dones = make(map[string]bool, len(v.Dones))
	for id, d := range v.Dones {
		out.Dones[id] = d
	}

	if v.Timer.DurationSec != nil {
		d := *v.Timer.DurationSec
		out.Timer.DurationSec = &d
	}
	if v.Timer.EndAt != nil {
		e := *v.Timer.EndAt
		out.Timer.EndAt = &e
	}
	return &out
}
