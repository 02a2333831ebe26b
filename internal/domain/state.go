package domain

import "fmt"

// DraftState описывает состояние черновика в жизненном цикле коммита.
type DraftState string

const (
	DraftStateInitiated  DraftState = "INITIATED"
	DraftStateStaging    DraftState = "STAGING"
	DraftStateReady      DraftState = "READY"
	DraftStateCommitting DraftState = "COMMITTING"
	DraftStateCommitted  DraftState = "COMMITTED"
	DraftStateConflict   DraftState = "CONFLICT"
	DraftStateFailed     DraftState = "FAILED"
	DraftStateExpired    DraftState = "EXPIRED"
)

// transitions: закрытое множество допустимых переходов.
// FAILED и CONFLICT выходят только через повторную подготовку черновика.
var transitions = map[DraftState][]DraftState{
	DraftStateInitiated:  {DraftStateStaging, DraftStateExpired},
	DraftStateStaging:    {DraftStateReady, DraftStateExpired},
	DraftStateReady:      {DraftStateCommitting, DraftStateExpired},
	DraftStateCommitting: {DraftStateCommitted, DraftStateFailed, DraftStateConflict},
	DraftStateFailed:     {DraftStateStaging, DraftStateReady, DraftStateExpired},
	DraftStateConflict:   {DraftStateStaging, DraftStateExpired},
}

// Valid проверяет, что состояние входит в закрытое множество.
func (s DraftState) Valid() bool {
	switch s {
	case DraftStateInitiated, DraftStateStaging, DraftStateReady, DraftStateCommitting,
		DraftStateCommitted, DraftStateConflict, DraftStateFailed, DraftStateExpired:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из состояния нет переходов.
func (s DraftState) Terminal() bool {
	return s == DraftStateCommitted || s == DraftStateExpired
}

// Mutable сообщает, можно ли менять состав черновика в этом состоянии.
func (s DraftState) Mutable() bool {
	switch s {
	case DraftStateInitiated, DraftStateStaging, DraftStateFailed, DraftStateConflict:
		return true
	default:
		return false
	}
}

// CanTransition проверяет допустимость перехода from → to.
func CanTransition(from, to DraftState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition: единственная функция перехода; недопустимые переходы отклоняются.
func Transition(from, to DraftState) (DraftState, error) {
	if !from.Valid() || !to.Valid() || !CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return to, nil
}
