package persistence

var (
	RecordFromRow  = recordFromRow
	JournalFromRow = journalFromRow
	Placeholders   = placeholders
)
