package saga

import (
	"strings"
	"time"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

// Поля регистрации, переносимые в заголовок отдельными колонками.
const (
	fieldPersonID       = "person_id"
	fieldOrganizationID = "organization_id"
	fieldPeriod         = "period"
)

// commitPlan: упорядоченный список записей коммита.
// header хранит индекс заголовка регистрации или -1.
type commitPlan struct {
	records []domain.DurableRecord
	header  int
}

// buildPlan ставит первым заголовок регистрации в статусе pending,
// затем позиции в порядке добавления.
func buildPlan(draft domain.Draft, access domain.AccessDefaults, now time.Time) commitPlan {
	plan := commitPlan{header: -1, records: make([]domain.DurableRecord, 0, len(draft.Items)+1)}

	if draft.Kind == domain.DraftKindRegistration {
		attrs := make(map[string]string, len(draft.Fields))
		for k, v := range draft.Fields {
			attrs[k] = strings.TrimSpace(v)
		}
		holder := draft.Field(fieldPersonID)
		if holder == "" {
			holder = draft.Field(fieldOrganizationID)
		}
		plan.header = 0
		plan.records = append(plan.records, domain.DurableRecord{
			IdempotencyKey: domain.IdempotencyKey(draft.ID, domain.RegistrationItemID),
			SessionID:      draft.ID,
			OwnerID:        draft.OwnerID,
			Kind:           domain.RecordKindRegistration,
			TotalMinor:     draft.TotalMinor,
			Currency:       draft.Currency,
			HolderID:       holder,
			Period:         draft.Field(fieldPeriod),
			Attributes:     attrs,
			Privilege:      access.Privilege,
			Visibility:     access.Visibility,
			Status:         domain.RecordStatusPending,
			CreatedAt:      now,
		})
	}

	for _, item := range draft.Items {
		plan.records = append(plan.records, domain.DurableRecord{
			IdempotencyKey: domain.IdempotencyKey(draft.ID, item.ID),
			SessionID:      draft.ID,
			OwnerID:        draft.OwnerID,
			Kind:           domain.RecordKindLineItem,
			RefID:          item.RefID,
			Quantity:       item.Quantity,
			UnitPriceMinor: item.UnitPriceMinor,
			UnitTaxMinor:   item.UnitTaxMinor,
			TotalMinor:     item.TotalMinor(),
			Currency:       item.Currency,
			Privilege:      access.Privilege,
			Visibility:     access.Visibility,
			Status:         domain.RecordStatusActive,
			CreatedAt:      now,
		})
	}
	return plan
}

// itemIDOf восстанавливает id позиции из ключа идемпотентности.
func itemIDOf(record domain.DurableRecord) string {
	if idx := strings.LastIndex(record.IdempotencyKey, ":"); idx >= 0 {
		return record.IdempotencyKey[idx+1:]
	}
	return record.RefID
}
