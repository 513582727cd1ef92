// Пакет phase — конечный автомат фаз согласования сессии и профиля.
//
// Жизненный цикл:
//   - initializing → unauthenticated | resolving_profile
//   - resolving_profile → ready | degraded | unauthenticated | resolving_profile
//   - ready, degraded → resolving_profile | unauthenticated
//
// В unauthenticated ведёт любая фаза. Потокобезопасен через sync.RWMutex.
package phase

import (
	"fmt"
	"sync"
	"time"
)

// Phase — наблюдаемая фаза сессии.
type Phase string

const (
	// Initializing — начальная фаза, сессия ещё не читалась
	Initializing Phase = "initializing"
	// Unauthenticated — активной сессии нет
	Unauthenticated Phase = "unauthenticated"
	// ResolvingProfile — Identity подтверждена, идёт поиск или создание профиля
	ResolvingProfile Phase = "resolving_profile"
	// Ready — Identity и профиль получены
	Ready Phase = "ready"
	// Degraded — Identity подтверждена, профиль получить не удалось
	Degraded Phase = "degraded"
)

// historyLimit — сколько последних переходов хранит автомат.
const historyLimit = 32

// IsLoading сообщает, идёт ли в этой фазе загрузка.
func (p Phase) IsLoading() bool {
	return p == Initializing || p == ResolvingProfile
}

// TransitionRecord — запись о переходе между фазами.
type TransitionRecord struct {
	From      Phase     `json:"from"`
	To        Phase     `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// validTransitions — матрица допустимых переходов.
var validTransitions = map[Phase]map[Phase]bool{
	Initializing:     {Unauthenticated: true, ResolvingProfile: true},
	Unauthenticated:  {Unauthenticated: true, ResolvingProfile: true},
	ResolvingProfile: {ResolvingProfile: true, Ready: true, Degraded: true, Unauthenticated: true},
	Ready:            {ResolvingProfile: true, Unauthenticated: true},
	Degraded:         {ResolvingProfile: true, Unauthenticated: true},
}

// Machine — конечный автомат фаз одной клиентской сессии.
type Machine struct {
	mu      sync.RWMutex
	current Phase
	history []TransitionRecord
}

// NewMachine создаёт автомат в фазе initializing.
func NewMachine() *Machine {
	return &Machine{
		current: Initializing,
		history: make([]TransitionRecord, 0, historyLimit),
	}
}

// Current возвращает текущую фазу.
func (m *Machine) Current() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// TransitionTo выполняет переход в указанную фазу.
// reason — краткое описание причины (событие, результат поиска).
//
// Ошибки:
//   - INVALID_PHASE — неизвестная целевая фаза
//   - INVALID_TRANSITION — переход недопустим
func (m *Machine) TransitionTo(target Phase, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !isValidPhase(target) {
		return &TransitionError{
			Code:    "INVALID_PHASE",
			Message: fmt.Sprintf("недопустимая целевая фаза: %q", target),
		}
	}

	if !validTransitions[m.current][target] {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("переход %s → %s недопустим", m.current, target),
		}
	}

	record := TransitionRecord{
		From:      m.current,
		To:        target,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}

	m.current = target
	if len(m.history) == historyLimit {
		copy(m.history, m.history[1:])
		m.history = m.history[:historyLimit-1]
	}
	m.history = append(m.history, record)

	return nil
}

// History возвращает историю переходов (копия, не более historyLimit записей).
func (m *Machine) History() []TransitionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]TransitionRecord, len(m.history))
	copy(result, m.history)
	return result
}

// TransitionError — ошибка перехода между фазами.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_PHASE, INVALID_TRANSITION)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// isValidPhase проверяет, является ли значение известной фазой.
func isValidPhase(p Phase) bool {
	switch p {
	case Initializing, Unauthenticated, ResolvingProfile, Ready, Degraded:
		return true
	default:
		return false
	}
}
