package retro

// EventType tags an Event with the mutation it requests.
type EventType string

const (
	EventJoin                EventType = "join"
	EventSetStage            EventType = "set-stage"
	EventStartTimer          EventType = "start-timer"
	EventStopTimer           EventType = "stop-timer"
	EventAddSection          EventType = "add-section"
	EventRenameSection       EventType = "rename-section"
	EventRemoveSection       EventType = "remove-section"
	EventAddNote             EventType = "add-note"
	EventDeleteNote          EventType = "delete-note"
	EventCreateGroup         EventType = "create-group"
	EventRenameGroup         EventType = "rename-group"
	EventAddNoteToGroup      EventType = "add-note-to-group"
	EventRemoveNoteFromGroup EventType = "remove-note-from-group"
	EventCastVote            EventType = "cast-vote"
	EventRemoveVote          EventType = "remove-vote"
	EventAddActionItem       EventType = "add-action-item"
	EventUpdateActionItem    EventType = "update-action-item"
	EventRemoveActionItem    EventType = "remove-action-item"
	EventSetDone             EventType = "set-done"
)

var hostOnlyEvents = map[EventType]bool{
	EventSetStage:         true,
	EventStartTimer:       true,
	EventStopTimer:        true,
	EventAddSection:       true,
	EventRenameSection:    true,
	EventRemoveSection:    true,
	EventAddActionItem:    true,
	EventUpdateActionItem: true,
	EventRemoveActionItem: true,

	EventJoin:                false,
	EventAddNote:             false,
	EventDeleteNote:          false,
	EventCreateGroup:         false,
	EventRenameGroup:         false,
	EventAddNoteToGroup:      false,
	EventRemoveNoteFromGroup: false,
	EventCastVote:            false,
	EventRemoveVote:          false,
	EventSetDone:             false,
}

// Known reports whether t is one of the supported event types.
func (t EventType) Known() bool {
	_, ok := hostOnlyEvents[t]
	return ok
}

// HostOnly reports whether t requires the session's host secret.
func (t EventType) HostOnly() bool {
	return hostOnlyEvents[t]
}

// Event is one mutation request. Which fields are meaningful depends on Type;
// the JSON shape is the one browsers post to the event endpoint.
//
// At is stamped (unix milliseconds) by the instance that first accepts the
// event, so replaying it on a peer yields identical timestamps.
type Event struct {
	Type       EventType `json:"type"`
	At         int64     `json:"at,omitempty"`
	HostSecret string    `json:"hostSecret,omitempty"`

	Participant *Participant `json:"participant,omitempty"`
	Stage       Stage        `json:"stage,omitempty"`
	DurationSec int          `json:"durationSec,omitempty"`

	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Text      string `json:"text,omitempty"`
	SectionID string `json:"sectionId,omitempty"`
	CreatedBy string `json:"createdBy,omitempty"`

	GroupID       string `json:"groupId,omitempty"`
	NoteID        string `json:"noteId,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`

	Action   *ActionItem `json:"action,omitempty"`
	ActionID string      `json:"actionId,omitempty"`
	Done     bool        `json:"done"`
}
