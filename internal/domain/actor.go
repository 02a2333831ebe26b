package domain

import "context"

// Role определяет уровень полномочий актора.
type Role string

const (
	RoleMember Role = "member"
	RoleStaff  Role = "staff"
	RoleAdmin  Role = "admin"
)

// Actor: вызывающий, от имени которого выполняется операция.
type Actor struct {
	ID   string
	Role Role
}

// Elevated сообщает, может ли актор работать с чужими черновиками.
func (a Actor) Elevated() bool {
	return a.Role == RoleStaff || a.Role == RoleAdmin
}

type operationIDKey struct{}

// WithOperationID сохраняет идентификатор операции в контексте.
func WithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operationIDKey{}, id)
}

// OperationIDFromContext достаёт идентификатор операции, если он задан.
func OperationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(operationIDKey{}).(string)
	return id
}
