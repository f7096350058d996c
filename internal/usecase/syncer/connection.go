package syncer

import "sync"

// ConnectionMonitor сводит поток исходов выборки событий к единому булеву
// признаку «на связи». Наблюдатель вызывается только на фронте изменения,
// никогда на повторном значении.
type ConnectionMonitor struct {
	mu        sync.Mutex
	connected bool
	onChange  func(connected bool)
}

// NewConnectionMonitor создаёт монитор. Начальное состояние — не на связи.
func NewConnectionMonitor(onChange func(connected bool)) *ConnectionMonitor {
	return &ConnectionMonitor{onChange: onChange}
}

// RecordSuccess фиксирует успешную выборку.
func (m *ConnectionMonitor) RecordSuccess() {
	m.record(true)
}

// RecordFailure фиксирует неудачную выборку.
func (m *ConnectionMonitor) RecordFailure() {
	m.record(false)
}

func (m *ConnectionMonitor) record(connected bool) {
	m.mu.Lock()
	changed := m.connected != connected
	m.connected = connected
	onChange := m.onChange
	m.mu.Unlock()

	if changed && onChange != nil {
		onChange(connected)
	}
}

// Connected возвращает текущее состояние соединения.
func (m *ConnectionMonitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}
