package domain

const (
	// PrivilegeOwner: привилегия владельца для новых записей.
	PrivilegeOwner = "owner"
	// VisibilityPrivate: записи видны только владельцу и персоналу.
	VisibilityPrivate = "private"
)

// AccessDefaults: значения доступа, проставляемые durable-записям при коммите.
type AccessDefaults struct {
	Privilege  string
	Visibility string
}

// AccessPolicy решает, кто может менять черновик и с какими правами создаются записи.
type AccessPolicy interface {
	CanMutate(actor Actor, draft Draft) bool
	RecordDefaults(draft Draft) AccessDefaults
}

// StaticAccessPolicy: владелец или повышенная роль, фиксированные значения доступа.
type StaticAccessPolicy struct {
	Defaults AccessDefaults
}

// DefaultAccessPolicy возвращает политику owner/private.
func DefaultAccessPolicy() StaticAccessPolicy {
	return StaticAccessPolicy{Defaults: AccessDefaults{Privilege: PrivilegeOwner, Visibility: VisibilityPrivate}}
}

// NewStaticAccessPolicy создаёт политику; пустые значения заменяются значениями по умолчанию.
func NewStaticAccessPolicy(privilege, visibility string) StaticAccessPolicy {
	policy := DefaultAccessPolicy()
	if privilege != "" {
		policy.Defaults.Privilege = privilege
	}
	if visibility != "" {
		policy.Defaults.Visibility = visibility
	}
	return policy
}

func (p StaticAccessPolicy) CanMutate(actor Actor, draft Draft) bool {
	if actor.ID == "" {
		return false
	}
	return actor.ID == draft.OwnerID || actor.Elevated()
}

func (p StaticAccessPolicy) RecordDefaults(Draft) AccessDefaults {
	return p.Defaults
}

var _ AccessPolicy = StaticAccessPolicy{}
