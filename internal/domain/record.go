package domain

import "time"

// RecordKind различает типы durable-записей.
type RecordKind string

const (
	RecordKindLineItem     RecordKind = "line_item"
	RecordKindRegistration RecordKind = "registration"
)

const (
	// RecordStatusPending: заголовок регистрации создан, позиции ещё пишутся.
	RecordStatusPending = "pending"
	// RecordStatusActive: все записи коммита сохранены.
	RecordStatusActive = "active"
)

// RegistrationItemID: идентификатор заголовка регистрации внутри черновика.
const RegistrationItemID = "registration"

// DurableRecord: запись в системе хранения, созданная коммитом.
type DurableRecord struct {
	ID             string            `json:"id"`
	IdempotencyKey string            `json:"idempotency_key"`
	SessionID      string            `json:"session_id"`
	OwnerID        string            `json:"owner_id"`
	Kind           RecordKind        `json:"kind"`
	RefID          string            `json:"ref_id,omitempty"`
	Quantity       int32             `json:"quantity,omitempty"`
	UnitPriceMinor int64             `json:"unit_price_minor,omitempty"`
	UnitTaxMinor   int64             `json:"unit_tax_minor,omitempty"`
	TotalMinor     int64             `json:"total_minor,omitempty"`
	Currency       string            `json:"currency,omitempty"`
	HolderID       string            `json:"holder_id,omitempty"`
	Period         string            `json:"period,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	Privilege      string            `json:"privilege"`
	Visibility     string            `json:"visibility"`
	Status         string            `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
}

// RecordPatch: частичное обновление записи; пустые значения не меняются.
type RecordPatch struct {
	Status     string            `json:"status,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// IdempotencyKey строит детерминированный ключ записи коммита.
func IdempotencyKey(sessionID, itemID string) string {
	return sessionID + ":" + itemID
}

// Product: данные каталога, из которых строится снимок позиции.
type Product struct {
	ID         string
	Name       string
	PriceMinor int64
	TaxMinor   int64
	Currency   string
	Active     bool
}

// Matches проверяет, что снимок позиции всё ещё соответствует каталогу.
func (p Product) Matches(item LineItem) bool {
	return p.Active &&
		p.PriceMinor == item.UnitPriceMinor &&
		p.TaxMinor == item.UnitTaxMinor &&
		p.Currency == item.Currency
}
