package validation

import (
	"context"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

// Имена полей регистрации.
const (
	FieldMembershipType      = "membership_type"
	FieldMembershipTypeOther = "membership_type_other"
	FieldReferralSource      = "referral_source"
	FieldReferralSourceOther = "referral_source_other"
	FieldPeriod              = "period"
	FieldContactEmail        = "contact_email"
	FieldPersonID            = "person_id"
	FieldOrganizationID      = "organization_id"

	// OtherValue: значение выбора, требующее уточняющего текстового поля.
	OtherValue = "other"
)

var periodPattern = regexp.MustCompile(`^\d{4}$`)

// Rule: отдельная проверка черновика. error возвращается только для сбоев инфраструктуры.
type Rule func(ctx context.Context, draft domain.Draft) (Result, error)

// Pure превращает проверку без внешних зависимостей в Rule.
func Pure(check func(domain.Draft) Result) Rule {
	return func(_ context.Context, draft domain.Draft) (Result, error) {
		return check(draft), nil
	}
}

// ForKind применяет правило только к черновикам указанного вида.
func ForKind(kind domain.DraftKind, rule Rule) Rule {
	return func(ctx context.Context, draft domain.Draft) (Result, error) {
		if draft.Kind != kind {
			return Ok(), nil
		}
		return rule(ctx, draft)
	}
}

// NonEmptyCart: корзина без позиций не коммитится.
func NonEmptyCart(draft domain.Draft) Result {
	if draft.Kind == domain.DraftKindCart && len(draft.Items) == 0 {
		return Fail("items", "at least one item is required")
	}
	return Ok()
}

// LineConsistency проверяет количество и суммы каждой позиции.
func LineConsistency(draft domain.Draft) Result {
	result := Ok()
	var total int64
	for _, item := range draft.Items {
		prefix := "items." + item.ID
		if item.Quantity <= 0 {
			result = result.Merge(FailWith(prefix+".quantity", "must be a positive integer", domain.ErrQuantityInvalid))
			continue
		}
		if item.SubtotalMinor != int64(item.Quantity)*item.UnitPriceMinor || item.TaxMinor != int64(item.Quantity)*item.UnitTaxMinor {
			result = result.Merge(Fail(prefix+".subtotal_minor", "does not match quantity and unit price"))
		}
		total += item.TotalMinor()
	}
	if result.IsOk() && total != draft.TotalMinor {
		result = result.Merge(Fail("total_minor", fmt.Sprintf("expected %d, got %d", total, draft.TotalMinor)))
	}
	return result
}

// SingleCurrency: у черновика с позициями ровно одна валюта.
func SingleCurrency(draft domain.Draft) Result {
	if len(draft.Items) == 0 {
		return Ok()
	}
	if strings.TrimSpace(draft.Currency) == "" {
		return Fail("currency", "is required")
	}
	for _, item := range draft.Items {
		if item.Currency != draft.Currency {
			return FailWith("items."+item.ID+".currency", "differs from draft currency "+draft.Currency, domain.ErrCurrencyMismatch)
		}
	}
	return Ok()
}

// RequiredFields проверяет обязательные поля регистрации и их формат.
func RequiredFields(draft domain.Draft) Result {
	result := Ok()
	for _, name := range []string{FieldMembershipType, FieldPeriod, FieldContactEmail} {
		if draft.Field(name) == "" {
			result = result.Merge(Fail(name, "is required"))
		}
	}
	if period := draft.Field(FieldPeriod); period != "" && !periodPattern.MatchString(period) {
		result = result.Merge(Fail(FieldPeriod, "must be a four-digit year"))
	}
	if email := draft.Field(FieldContactEmail); email != "" {
		if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
			result = result.Merge(Fail(FieldContactEmail, "must be a valid email address"))
		}
	}
	return result
}

// OtherRequires: выбор "other" в поле choice требует заполненного поля detail.
func OtherRequires(choice, detail string) func(domain.Draft) Result {
	return func(draft domain.Draft) Result {
		if strings.EqualFold(draft.Field(choice), OtherValue) && draft.Field(detail) == "" {
			return Fail(detail, "is required when "+choice+" is "+OtherValue)
		}
		return Ok()
	}
}

// ExactlyOne: заполнено ровно одно из полей.
func ExactlyOne(first, second string) func(domain.Draft) Result {
	return func(draft domain.Draft) Result {
		hasFirst, hasSecond := draft.Field(first) != "", draft.Field(second) != ""
		if hasFirst == hasSecond {
			return Fail(first, "exactly one of "+first+" and "+second+" is required")
		}
		return Ok()
	}
}

// HolderID возвращает держателя регистрации: person_id или organization_id.
func HolderID(draft domain.Draft) string {
	if id := draft.Field(FieldPersonID); id != "" {
		return id
	}
	return draft.Field(FieldOrganizationID)
}

// UniqueRegistration проверяет по durable-хранилищу, что регистрации на период ещё нет.
// Записи самого черновика не в счёт: после сбоя коммит возобновляется по тем же ключам.
// Правило выполняется последним, чтобы сузить окно между проверкой и записью.
func UniqueRegistration(index domain.RegistrationIndex) Rule {
	return func(ctx context.Context, draft domain.Draft) (Result, error) {
		holder, period := HolderID(draft), draft.Field(FieldPeriod)
		if index == nil || holder == "" || !periodPattern.MatchString(period) {
			return Ok(), nil
		}
		exists, err := index.ExistsForHolderPeriod(ctx, holder, period, draft.ID)
		if err != nil {
			return Ok(), fmt.Errorf("check registration uniqueness: %w", err)
		}
		if exists {
			return FailWith(FieldPeriod, "a registration for this holder and period already exists", domain.ErrDuplicateRecord), nil
		}
		return Ok(), nil
	}
}
