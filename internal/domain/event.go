package domain

// Имена аудит-событий черновика.
const (
	EventDraftCreated      = "draft.created"
	EventItemStaged        = "draft.item_staged"
	EventItemUnstaged      = "draft.item_unstaged"
	EventFieldSet          = "draft.field_set"
	EventFieldUnset        = "draft.field_unset"
	EventCommitStarted     = "draft.commit_started"
	EventDraftCommitted    = "draft.committed"
	EventCommitFailed      = "draft.commit_failed"
	EventCommitConflict    = "draft.commit_conflict"
	EventRecordCompensated = "draft.record_compensated"
	EventOrphanRecord      = "draft.orphan_record"
	EventOrphanResolved    = "draft.orphan_resolved"
	EventDraftExpired      = "draft.expired"
)

// AggregateDraft задаёт тип агрегата в outbox-сообщениях.
const AggregateDraft = "draft"
