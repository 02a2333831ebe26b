package validation

import (
	"context"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

// Validator применяет правила и собирает все нарушения.
// Правила с обращением к durable-хранилищу (remote) выполняются,
// только если локальные правила нарушений не нашли.
type Validator struct {
	local  []Rule
	remote []Rule
}

// New собирает валидатор со стандартным набором правил.
func New(index domain.RegistrationIndex) *Validator {
	return NewWithRules(
		[]Rule{
			Pure(NonEmptyCart),
			Pure(LineConsistency),
			Pure(SingleCurrency),
			ForKind(domain.DraftKindRegistration, Pure(RequiredFields)),
			ForKind(domain.DraftKindRegistration, Pure(OtherRequires(FieldMembershipType, FieldMembershipTypeOther))),
			ForKind(domain.DraftKindRegistration, Pure(OtherRequires(FieldReferralSource, FieldReferralSourceOther))),
			ForKind(domain.DraftKindRegistration, Pure(ExactlyOne(FieldPersonID, FieldOrganizationID))),
		},
		[]Rule{
			ForKind(domain.DraftKindRegistration, UniqueRegistration(index)),
		},
	)
}

// NewWithRules собирает валидатор из произвольных правил.
func NewWithRules(local, remote []Rule) *Validator {
	return &Validator{local: local, remote: remote}
}

// Check применяет правила. Ошибка означает сбой инфраструктуры, а не нарушение.
func (v *Validator) Check(ctx context.Context, draft domain.Draft) (Result, error) {
	result, err := apply(ctx, draft, v.local)
	if err != nil || !result.IsOk() {
		return result, err
	}
	return apply(ctx, draft, v.remote)
}

// Validate возвращает nil, если черновик готов к коммиту, иначе domain.ValidationErrors.
func (v *Validator) Validate(ctx context.Context, draft domain.Draft) error {
	result, err := v.Check(ctx, draft)
	if err != nil {
		return err
	}
	return result.Err()
}

func apply(ctx context.Context, draft domain.Draft, rules []Rule) (Result, error) {
	result := Ok()
	for _, rule := range rules {
		r, err := rule(ctx, draft)
		if err != nil {
			return result, err
		}
		result = result.Merge(r)
	}
	return result, nil
}
