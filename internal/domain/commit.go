package domain

// CommitStatus: итог попытки коммита.
type CommitStatus string

const (
	CommitStatusCommitted CommitStatus = "COMMITTED"
	CommitStatusConflict  CommitStatus = "CONFLICT"
	CommitStatusFailed    CommitStatus = "FAILED"
)

// CommitResult возвращается вызывающему и сохраняется для повторных вызовов.
type CommitResult struct {
	SessionID    string       `json:"session_id"`
	Status       CommitStatus `json:"status"`
	CommittedIDs []string     `json:"committed_ids"`
	TotalMinor   int64        `json:"total_minor"`
	Currency     string       `json:"currency,omitempty"`
	Reason       string       `json:"reason,omitempty"`
}

// CommitResultKey возвращает ключ хранилища результатов коммита для сессии.
func CommitResultKey(sessionID string) string {
	return "commit:" + sessionID
}
