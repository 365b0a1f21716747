package i18n

// Key is a message id in the locale files.
type Key string

// Buttons and the submission panel.
const (
	ButtonSubmitLeave Key = "button.submit_leave"
	ButtonApprove     Key = "button.approve"
	ButtonReject      Key = "button.reject"
	ButtonAddNote     Key = "button.add_note"
	ButtonPrevious    Key = "button.previous"
	ButtonNext        Key = "button.next"

	PanelTitle             Key = "panel.title"
	PanelDescription       Key = "panel.description"
	PanelLockedTitle       Key = "panel.locked_title"
	PanelLockedDescription Key = "panel.locked_description"
)

// Dialogs.
const (
	DialogSubmit              Key = "dialog.submit"
	DialogLeaveTitle          Key = "dialog.leave.title"
	DialogLeaveReason         Key = "dialog.leave.reason"
	DialogLeaveReasonHint     Key = "dialog.leave.reason_hint"
	DialogLeaveDuration       Key = "dialog.leave.duration"
	DialogLeaveDurationHint   Key = "dialog.leave.duration_hint"
	DialogLeaveStartDate      Key = "dialog.leave.start_date"
	DialogLeaveEndDate        Key = "dialog.leave.end_date"
	DialogLeaveDateHint       Key = "dialog.leave.date_hint"
	DialogRejectTitle         Key = "dialog.reject.title"
	DialogRejectReason        Key = "dialog.reject.reason"
	DialogRejectReasonHint    Key = "dialog.reject.reason_hint"
	DialogNoteTitle           Key = "dialog.note.title"
	DialogNoteText            Key = "dialog.note.text"
	DialogNoteTextPlaceholder Key = "dialog.note.placeholder"
)

// Request fields, statuses and the review post.
const (
	FieldRequestID       Key = "field.request_id"
	FieldApplicant       Key = "field.applicant"
	FieldReason          Key = "field.reason"
	FieldDuration        Key = "field.duration"
	FieldDays            Key = "field.days"
	FieldStartDate       Key = "field.start_date"
	FieldEndDate         Key = "field.end_date"
	FieldStatus          Key = "field.status"
	FieldProcessedBy     Key = "field.processed_by"
	FieldRejectionReason Key = "field.rejection_reason"

	StatusPending   Key = "status.pending"
	StatusApproved  Key = "status.approved"
	StatusRejected  Key = "status.rejected"
	StatusCancelled Key = "status.cancelled"

	ReviewTitle     Key = "review.title"
	ReviewApproved  Key = "review.approved"
	ReviewRejected  Key = "review.rejected"
	ReviewCancelled Key = "review.cancelled"

	NotifyNewRequest Key = "notify.new_request"
)

// Direct messages and log channel entries.
const (
	DMApproved  Key = "dm.approved"
	DMRejected  Key = "dm.rejected"
	DMCancelled Key = "dm.cancelled"
	DMReminder  Key = "dm.reminder"
	DMExport    Key = "dm.export"

	LogNewRequest    Key = "log.new_request"
	LogStatusChanged Key = "log.status_changed"
	LogRoleAssigned  Key = "log.role_assigned"
	LogRoleRemoved   Key = "log.role_removed"
	LogNoteAdded     Key = "log.note_added"
	LogReminderSent  Key = "log.reminder_sent"
)

// Command replies.
const (
	MsgRequestSubmitted Key = "msg.request_submitted"
	MsgRequestApproved  Key = "msg.request_approved"
	MsgRequestRejected  Key = "msg.request_rejected"
	MsgRequestCancelled Key = "msg.request_cancelled"
	MsgNoteAdded        Key = "msg.note_added"
	MsgSystemLocked     Key = "msg.system_locked"
	MsgSystemUnlocked   Key = "msg.system_unlocked"
	MsgLanguageChanged  Key = "msg.language_changed"
	MsgPanelDeployed    Key = "msg.panel_deployed"
	MsgExportSent       Key = "msg.export_sent"
	MsgExportEmpty      Key = "msg.export_empty"
	MsgNoPermission     Key = "msg.no_permission"
	MsgGenericError     Key = "msg.generic_error"
	MsgUnknownCommand   Key = "msg.unknown_command"
	MsgUsage            Key = "msg.usage"
	MsgHelp             Key = "msg.help"
	MsgHelpAdmin        Key = "msg.help_admin"

	MyTitle Key = "my.title"
	MyEmpty Key = "my.empty"
	MyPage  Key = "my.page"

	SearchTitle Key = "search.title"
	SearchEmpty Key = "search.empty"

	StatsTitle           Key = "stats.title"
	StatsPeriodAll       Key = "stats.period_all"
	StatsPeriodMonth     Key = "stats.period_month"
	StatsPeriodWeek      Key = "stats.period_week"
	StatsTotal           Key = "stats.total"
	StatsAverageDuration Key = "stats.average_duration"
	StatsTopMembers      Key = "stats.top_members"
	StatsTopMember       Key = "stats.top_member"
	StatsNoTopMembers    Key = "stats.no_top_members"

	HistoryTitle     Key = "history.title"
	HistoryEntry     Key = "history.entry"
	HistoryEmpty     Key = "history.empty"
	HistoryNotes     Key = "history.notes"
	HistoryNoteEntry Key = "history.note_entry"

	PendingTitle Key = "pending.title"
	PendingEmpty Key = "pending.empty"
)

// Domain error messages, one per error code.
const (
	ErrSystemLocked        Key = "error.system_locked"
	ErrRateLimitExceeded   Key = "error.rate_limit_exceeded"
	ErrEmptyReason         Key = "error.empty_reason"
	ErrInvalidDuration     Key = "error.invalid_duration"
	ErrInvalidDateFormat   Key = "error.invalid_date_format"
	ErrStartDateInPast     Key = "error.start_date_in_past"
	ErrEndBeforeStart      Key = "error.end_before_start"
	ErrDurationMismatch    Key = "error.duration_mismatch"
	ErrOverlappingLeave    Key = "error.overlapping_leave"
	ErrMaxDurationExceeded Key = "error.max_duration_exceeded"
	ErrInvalidStatus       Key = "error.invalid_status"
	ErrInvalidLanguage     Key = "error.invalid_language"
	ErrEmptyNote           Key = "error.empty_note"
	ErrAlreadyProcessed    Key = "error.already_processed"
	ErrNotFound            Key = "error.not_found"
)
