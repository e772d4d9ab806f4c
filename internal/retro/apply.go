package retro

import "slices"

// applyEvent mutates s according to evt. It returns false only when a
// host-gated event fails authorization; that event must not be broadcast or
// forwarded. Benign no-ops (vote budget exhausted, unknown ids) return true.
//
// hostTrusted skips the secret check for events whose origin instance
// already authorized them.
func applyEvent(s *Session, evt Event, hostTrusted bool) bool {
	if !evt.Type.Known() {
		return false
	}
	if evt.Type.HostOnly() && !hostTrusted && !s.authorizeHost(evt.HostSecret) {
		return false
	}

	switch evt.Type {
	case EventJoin:
		if evt.Participant == nil {
			return true
		}
		p := *evt.Participant
		if p.JoinedAt == 0 {
			p.JoinedAt = evt.At
		}
		s.Participants[p.ID] = p
		if _, ok := s.Votes[p.ID]; !ok {
			s.Votes[p.ID] = map[string]int{}
		}
		if _, ok := s.Dones[p.ID]; !ok {
			s.Dones[p.ID] = false
		}

	case EventSetStage:
		s.Stage = evt.Stage

	case EventStartTimer:
		d := evt.DurationSec
		end := evt.At + int64(d)*1000
		s.Timer = Timer{Running: true, DurationSec: &d, EndAt: &end}

	case EventStopTimer:
		s.Timer.Running = false
		s.Timer.EndAt = nil

	case EventAddSection:
		s.Sections = append(s.Sections, Section{ID: evt.ID, Name: evt.Name, Order: len(s.Sections)})

	case EventRenameSection:
		if i := slices.IndexFunc(s.Sections, func(x Section) bool { return x.ID == evt.ID }); i >= 0 {
			s.Sections[i].Name = evt.Name
		}

	case EventRemoveSection:
		// Notes keep their section id and become orphaned.
		s.Sections = slices.DeleteFunc(s.Sections, func(x Section) bool { return x.ID == evt.ID })

	case EventAddNote:
		s.Notes[evt.ID] = Note{
			ID:        evt.ID,
			Text:      evt.Text,
			SectionID: evt.SectionID,
			CreatedBy: evt.CreatedBy,
			CreatedAt: evt.At,
		}

	case EventDeleteNote:
		delete(s.Notes, evt.ID)
		for _, g := range s.Groups {
			g.NoteIDs = slices.DeleteFunc(g.NoteIDs, func(id string) bool { return id == evt.ID })
		}

	case EventCreateGroup:
		s.Groups[evt.ID] = &Group{ID: evt.ID, Name: evt.Name, NoteIDs: []string{}, ActionItems: []ActionItem{}}

	case EventRenameGroup:
		if g, ok := s.Groups[evt.ID]; ok {
			g.Name = evt.Name
		}

	case EventAddNoteToGroup:
		if g, ok := s.Groups[evt.GroupID]; ok && !slices.Contains(g.NoteIDs, evt.NoteID) {
			g.NoteIDs = append(g.NoteIDs, evt.NoteID)
		}

	case EventRemoveNoteFromGroup:
		if g, ok := s.Groups[evt.GroupID]; ok {
			g.NoteIDs = slices.DeleteFunc(g.NoteIDs, func(id string) bool { return id == evt.NoteID })
		}

	case EventCastVote:
		if s.VotesUsed(evt.ParticipantID) >= s.VoteLimit {
			return true
		}
		m, ok := s.Votes[evt.ParticipantID]
		if !ok {
			m = map[string]int{}
			s.Votes[evt.ParticipantID] = m
		}
		m[evt.GroupID]++

	case EventRemoveVote:
		if m := s.Votes[evt.ParticipantID]; m[evt.GroupID] > 0 {
			m[evt.GroupID]--
		}

	case EventAddActionItem:
		if g, ok := s.Groups[evt.GroupID]; ok && evt.Action != nil {
			g.ActionItems = append(g.ActionItems, *evt.Action)
		}

	case EventUpdateActionItem:
		g, ok := s.Groups[evt.GroupID]
		if !ok || evt.Action == nil {
			return true
		}
		if i := slices.IndexFunc(g.ActionItems, func(a ActionItem) bool { return a.ID == evt.Action.ID }); i >= 0 {
			g.ActionItems[i] = *evt.Action
		}

	case EventRemoveActionItem:
		if g, ok := s.Groups[evt.GroupID]; ok {
			g.ActionItems = slices.DeleteFunc(g.ActionItems, func(a ActionItem) bool { return a.ID == evt.ActionID })
		}

	case EventSetDone:
		s.Dones[evt.ParticipantID] = evt.Done
	}
	return true
}
