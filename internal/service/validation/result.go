// Package validation проверяет черновик целиком перед коммитом.
package validation

import "github.com/vladislavdragonenkov/drafts/internal/domain"

// Result хранит итог правила: Ok (нет нарушений) или список нарушений.
type Result struct {
	violations domain.ValidationErrors
}

// Ok возвращает успешный результат.
func Ok() Result { return Result{} }

// Fail возвращает результат с одним нарушением.
func Fail(field, message string) Result {
	return Result{violations: domain.ValidationErrors{{Field: field, Message: message}}}
}

// FailWith возвращает нарушение с причиной, доступной через errors.Is.
func FailWith(field, message string, cause error) Result {
	return Result{violations: domain.ValidationErrors{{Field: field, Message: message, Err: cause}}}
}

// IsOk сообщает, что нарушений нет.
func (r Result) IsOk() bool { return len(r.violations) == 0 }

// Violations возвращает копию списка нарушений.
func (r Result) Violations() domain.ValidationErrors {
	return append(domain.ValidationErrors(nil), r.violations...)
}

// Merge объединяет результаты с сохранением порядка.
func (r Result) Merge(other Result) Result {
	if other.IsOk() {
		return r
	}
	merged := make(domain.ValidationErrors, 0, len(r.violations)+len(other.violations))
	merged = append(merged, r.violations...)
	merged = append(merged, other.violations...)
	return Result{violations: merged}
}

// Err возвращает nil для Ok или domain.ValidationErrors.
func (r Result) Err() error {
	if r.IsOk() {
		return nil
	}
	return r.Violations()
}
