package session_api

import (
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"thirdcoast.systems/retro/internal/retro"
	"thirdcoast.systems/retro/pkg/utils/sanitize"
)

const (
	maxTextLen     = 2000
	maxNameLen     = 200
	maxIDLen       = 128
	maxTimerSecond = 24 * 60 * 60
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(eventStructLevel, retro.Event{})
	return v
}

// eventStructLevel enforces the fields each event type needs. The hub only
// switches on the type tag, so anything it would dereference blindly is
// checked here.
func eventStructLevel(sl validator.StructLevel) {
	evt := sl.Current().Interface().(retro.Event)

	need := func(value, field string) {
		if value == "" {
			sl.ReportError(value, field, field, "required", "")
		}
	}
	id := func(value, field string) {
		need(value, field)
		if len(value) > maxIDLen {
			sl.ReportError(value, field, field, "max", "")
		}
	}
	name := func(value, field string, limit int) {
		if utf8.RuneCountInString(value) > limit {
			sl.ReportError(value, field, field, "max", "")
		}
	}

	switch evt.Type {
	case retro.EventJoin:
		if evt.Participant == nil {
			sl.ReportError(evt.Participant, "participant", "Participant", "required", "")
			return
		}
		id(evt.Participant.ID, "participant.id")
		need(evt.Participant.Name, "participant.name")
		name(evt.Participant.Name, "participant.name", maxNameLen)
	case retro.EventSetStage:
		if !evt.Stage.Valid() {
			sl.ReportError(evt.Stage, "stage", "Stage", "oneof", "")
		}
	case retro.EventStartTimer:
		if evt.DurationSec <= 0 || evt.DurationSec > maxTimerSecond {
			sl.ReportError(evt.DurationSec, "durationSec", "DurationSec", "range", "")
		}
	case retro.EventAddSection, retro.EventRenameSection:
		id(evt.ID, "id")
		need(evt.Name, "name")
		name(evt.Name, "name", maxNameLen)
	case retro.EventCreateGroup, retro.EventRenameGroup:
		id(evt.ID, "id")
		name(evt.Name, "name", maxNameLen)
	case retro.EventRemoveSection, retro.EventDeleteNote:
		id(evt.ID, "id")
	case retro.EventAddNote:
		id(evt.ID, "id")
		id(evt.SectionID, "sectionId")
		id(evt.CreatedBy, "createdBy")
		need(evt.Text, "text")
		name(evt.Text, "text", maxTextLen)
	case retro.EventAddNoteToGroup, retro.EventRemoveNoteFromGroup:
		id(evt.GroupID, "groupId")
		id(evt.NoteID, "noteId")
	case retro.EventCastVote, retro.EventRemoveVote:
		id(evt.ParticipantID, "participantId")
		id(evt.GroupID, "groupId")
	case retro.EventAddActionItem, retro.EventUpdateActionItem:
		id(evt.GroupID, "groupId")
		if evt.Action == nil {
			sl.ReportError(evt.Action, "action", "Action", "required", "")
			return
		}
		id(evt.Action.ID, "action.id")
		need(evt.Action.Text, "action.text")
		name(evt.Action.Text, "action.text", maxTextLen)
		name(evt.Action.Owner, "action.owner", maxNameLen)
		name(evt.Action.Due, "action.due", maxNameLen)
	case retro.EventRemoveActionItem:
		id(evt.GroupID, "groupId")
		id(evt.ActionID, "actionId")
	case retro.EventSetDone:
		id(evt.ParticipantID, "participantId")
	}
}

// cleanEvent strips markup from every free-text field of evt.
func cleanEvent(evt *retro.Event) {
	evt.Name = sanitize.Line(evt.Name)
	evt.Text = sanitize.Text(evt.Text)
	if evt.Participant != nil {
		p := *evt.Participant
		p.Name = sanitize.Line(p.Name)
		evt.Participant = &p
	}
	if evt.Action != nil {
		a := *evt.Action
		a.Text = sanitize.Text(a.Text)
		a.Owner = sanitize.Line(a.Owner)
		a.Due = sanitize.Line(a.Due)
		evt.Action = &a
	}
}
