package domain

import (
	"strings"
	"time"
)

// DraftKind различает сценарии, использующие общий оркестратор.
type DraftKind string

const (
	DraftKindCart         DraftKind = "cart"
	DraftKindRegistration DraftKind = "registration"
)

// Valid проверяет, что вид черновика поддерживается.
func (k DraftKind) Valid() bool {
	return k == DraftKindCart || k == DraftKindRegistration
}

// LineItem: снимок позиции; цена и налог фиксируются в момент добавления.
type LineItem struct {
	ID             string    `json:"id"`
	RefID          string    `json:"ref_id"`
	Name           string    `json:"name,omitempty"`
	Quantity       int32     `json:"quantity"`
	UnitPriceMinor int64     `json:"unit_price_minor"`
	UnitTaxMinor   int64     `json:"unit_tax_minor"`
	SubtotalMinor  int64     `json:"subtotal_minor"`
	TaxMinor       int64     `json:"tax_minor"`
	Currency       string    `json:"currency"`
	StagedAt       time.Time `json:"staged_at"`
}

// NewLineItem строит снимок позиции по актуальным данным каталога.
func NewLineItem(product Product, quantity int32, now time.Time) LineItem {
	return LineItem{
		ID:             product.ID,
		RefID:          product.ID,
		Name:           product.Name,
		Quantity:       quantity,
		UnitPriceMinor: product.PriceMinor,
		UnitTaxMinor:   product.TaxMinor,
		SubtotalMinor:  int64(quantity) * product.PriceMinor,
		TaxMinor:       int64(quantity) * product.TaxMinor,
		Currency:       product.Currency,
		StagedAt:       now,
	}
}

// TotalMinor возвращает сумму позиции с налогом.
func (i LineItem) TotalMinor() int64 {
	return i.SubtotalMinor + i.TaxMinor
}

// sameSnapshot сравнивает позиции без учёта времени добавления.
func (i LineItem) sameSnapshot(other LineItem) bool {
	return i.RefID == other.RefID &&
		i.Quantity == other.Quantity &&
		i.UnitPriceMinor == other.UnitPriceMinor &&
		i.UnitTaxMinor == other.UnitTaxMinor &&
		i.Currency == other.Currency
}

// Draft представляет изменяемый черновик, привязанный к сессии.
type Draft struct {
	ID         string            `json:"id"`
	OwnerID    string            `json:"owner_id"`
	Kind       DraftKind         `json:"kind"`
	State      DraftState        `json:"state"`
	Items      []LineItem        `json:"items"`
	Fields     map[string]string `json:"fields,omitempty"`
	Currency   string            `json:"currency,omitempty"`
	TotalMinor int64             `json:"total_minor"`
	Version    int64             `json:"version"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// NewDraft создаёт черновик в состоянии INITIATED.
func NewDraft(id, ownerID string, kind DraftKind, now time.Time, ttl time.Duration) Draft {
	if !kind.Valid() {
		kind = DraftKindCart
	}
	return Draft{
		ID:        id,
		OwnerID:   ownerID,
		Kind:      kind,
		State:     DraftStateInitiated,
		Items:     []LineItem{},
		Fields:    map[string]string{},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Expired сообщает, истёк ли TTL черновика.
func (d Draft) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && !now.Before(d.ExpiresAt)
}

// Item возвращает позицию по идентификатору.
func (d Draft) Item(id string) (LineItem, bool) {
	for _, item := range d.Items {
		if item.ID == id {
			return item, true
		}
	}
	return LineItem{}, false
}

// Field возвращает значение поля без пробелов по краям.
func (d Draft) Field(name string) string {
	return strings.TrimSpace(d.Fields[name])
}

// Clone возвращает глубокую копию черновика.
func (d Draft) Clone() Draft {
	dst := d
	dst.Items = append([]LineItem(nil), d.Items...)
	if dst.Items == nil {
		dst.Items = []LineItem{}
	}
	dst.Fields = make(map[string]string, len(d.Fields))
	for k, v := range d.Fields {
		dst.Fields[k] = v
	}
	return dst
}

// StageItem добавляет или заменяет позицию. Повтор того же снимка ничего не меняет.
func (d *Draft) StageItem(item LineItem) (bool, error) {
	if err := d.ensureMutable(); err != nil {
		return false, err
	}
	if item.Quantity <= 0 {
		return false, ErrQuantityInvalid
	}
	if d.Currency != "" && item.Currency != d.Currency {
		return false, ErrCurrencyMismatch
	}

	replaced := false
	for idx, existing := range d.Items {
		if existing.ID != item.ID {
			continue
		}
		if existing.sameSnapshot(item) {
			return false, nil
		}
		d.Items[idx] = item
		replaced = true
		break
	}
	if !replaced {
		d.Items = append(d.Items, item)
	}

	return true, d.markStaged()
}

// UnstageItem удаляет позицию; отсутствующая позиция не является ошибкой.
func (d *Draft) UnstageItem(itemID string) (bool, error) {
	if err := d.ensureMutable(); err != nil {
		return false, err
	}

	for idx, existing := range d.Items {
		if existing.ID != itemID {
			continue
		}
		d.Items = append(d.Items[:idx], d.Items[idx+1:]...)
		return true, d.markStaged()
	}
	return false, nil
}

// SetField задаёт атрибут регистрации.
func (d *Draft) SetField(name, value string) (bool, error) {
	if err := d.ensureMutable(); err != nil {
		return false, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return false, ErrFieldNameRequired
	}
	value = strings.TrimSpace(value)
	if d.Fields == nil {
		d.Fields = map[string]string{}
	}
	if current, ok := d.Fields[name]; ok && current == value {
		return false, nil
	}
	d.Fields[name] = value
	return true, d.markStaged()
}

// UnsetField удаляет атрибут регистрации.
func (d *Draft) UnsetField(name string) (bool, error) {
	if err := d.ensureMutable(); err != nil {
		return false, err
	}
	name = strings.TrimSpace(name)
	if _, ok := d.Fields[name]; !ok {
		return false, nil
	}
	delete(d.Fields, name)
	return true, d.markStaged()
}

// Advance переводит черновик в новое состояние через функцию перехода.
func (d *Draft) Advance(to DraftState) error {
	next, err := Transition(d.State, to)
	if err != nil {
		return err
	}
	d.State = next
	return nil
}

// Recalculate пересчитывает производные суммы и валюту.
func (d *Draft) Recalculate() {
	var total int64
	for _, item := range d.Items {
		total += item.TotalMinor()
	}
	d.TotalMinor = total
	if len(d.Items) == 0 {
		d.Currency = ""
		return
	}
	d.Currency = d.Items[0].Currency
}

// Touch фиксирует изменение: версия растёт, TTL сдвигается.
func (d *Draft) Touch(now time.Time, ttl time.Duration) {
	d.Version++
	d.UpdatedAt = now
	if ttl > 0 {
		d.ExpiresAt = now.Add(ttl)
	}
}

func (d *Draft) ensureMutable() error {
	switch {
	case d.State.Mutable():
		return nil
	case d.State == DraftStateReady || d.State == DraftStateCommitting:
		return &ConflictError{Reason: ConflictCommitInProgress, Err: ErrDraftCommitting}
	default:
		return ErrDraftClosed
	}
}

func (d *Draft) markStaged() error {
	d.Recalculate()
	if d.State == DraftStateStaging {
		return nil
	}
	return d.Advance(DraftStateStaging)
}
