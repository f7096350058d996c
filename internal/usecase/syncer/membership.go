package syncer

import (
	"strings"
	"sync"

	"clan-sync-bot/internal/domain"
)

// absentReadThreshold — сколько подряд «пустых» наблюдений нужно, чтобы
// признать выход из клана. Во время загрузок и телепортов хост ненадолго
// теряет данные о клане, и мгновенный сброс давал бы видимое мерцание.
const absentReadThreshold = 5

// MembershipDebouncer превращает шумные наблюдения о членстве в клане
// в стабильный булев признак с гистерезисом.
type MembershipDebouncer struct {
	mu           sync.Mutex
	target       string
	inClan       bool
	absentStreak int
	onChange     func(inClan bool)
}

// NewMembershipDebouncer создаёт дебаунсер для указанного клана.
func NewMembershipDebouncer(target string, onChange func(inClan bool)) *MembershipDebouncer {
	return &MembershipDebouncer{target: target, onChange: onChange}
}

// SetTarget обновляет имя целевого клана (приходит с серверными настройками).
func (d *MembershipDebouncer) SetTarget(target string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.target = target
}

// Observe применяет одно сырое наблюдение. Наличие данных о клане действует
// немедленно в обе стороны и обнуляет серию пустых наблюдений; отсутствие
// данных опускает признак только после absentReadThreshold подряд.
func (d *MembershipDebouncer) Observe(reading domain.MembershipReading) {
	d.mu.Lock()
	was := d.inClan

	if !reading.Absent {
		d.absentStreak = 0
		d.inClan = strings.EqualFold(reading.Group, d.target)
	} else if d.inClan {
		d.absentStreak++
		if d.absentStreak >= absentReadThreshold {
			d.inClan = false
			d.absentStreak = 0
		}
	}

	changed := d.inClan != was
	now := d.inClan
	onChange := d.onChange
	d.mu.Unlock()

	if changed && onChange != nil {
		onChange(now)
	}
}

// InClan возвращает стабильный признак членства.
func (d *MembershipDebouncer) InClan() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inClan
}

// Reset сбрасывает признак при выходе из профиля.
func (d *MembershipDebouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inClan = false
	d.absentStreak = 0
}
