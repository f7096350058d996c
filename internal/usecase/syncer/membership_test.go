package syncer

import (
	"testing"

	"clan-sync-bot/internal/domain"
)

func present(group string) domain.MembershipReading {
	return domain.MembershipReading{Group: group}
}

func absent() domain.MembershipReading {
	return domain.MembershipReading{Absent: true}
}

func TestMembershipImmediateJoin(t *testing.T) {
	d := NewMembershipDebouncer("Arceuus", nil)
	d.Observe(present("Arceuus"))
	if !d.InClan() {
		t.Fatalf("ожидали членство сразу после наблюдения с целевым кланом")
	}
}

func TestMembershipCaseInsensitive(t *testing.T) {
	d := NewMembershipDebouncer("Arceuus", nil)
	d.Observe(present("arceuus"))
	if !d.InClan() {
		t.Fatalf("сравнение имени клана должно игнорировать регистр")
	}
}

func TestMembershipWrongClanImmediate(t *testing.T) {
	d := NewMembershipDebouncer("Arceuus", nil)
	d.Observe(present("Arceuus"))
	d.Observe(present("Иной клан"))
	if d.InClan() {
		t.Fatalf("наблюдение с другим кланом должно опустить признак сразу")
	}
}

func TestMembershipAbsentDebounce(t *testing.T) {
	d := NewMembershipDebouncer("Arceuus", nil)
	d.Observe(present("Arceuus"))

	for i := 0; i < absentReadThreshold-1; i++ {
		d.Observe(absent())
		if !d.InClan() {
			t.Fatalf("признак опустился после %d пустых наблюдений, ожидали устойчивость до %d", i+1, absentReadThreshold)
		}
	}
	d.Observe(absent())
	if d.InClan() {
		t.Fatalf("ожидали выход из клана после %d пустых наблюдений подряд", absentReadThreshold)
	}
}

func TestMembershipAbsentStreakResets(t *testing.T) {
	d := NewMembershipDebouncer("Arceuus", nil)
	d.Observe(present("Arceuus"))

	for i := 0; i < absentReadThreshold-1; i++ {
		d.Observe(absent())
	}
	d.Observe(present("Arceuus"))
	for i := 0; i < absentReadThreshold-1; i++ {
		d.Observe(absent())
	}
	if !d.InClan() {
		t.Fatalf("наблюдение с данными должно обнулять серию пустых наблюдений")
	}
}

func TestMembershipAbsentWhileOutside(t *testing.T) {
	calls := 0
	d := NewMembershipDebouncer("Arceuus", func(bool) { calls++ })
	for i := 0; i < absentReadThreshold*2; i++ {
		d.Observe(absent())
	}
	if d.InClan() || calls != 0 {
		t.Fatalf("пустые наблюдения вне клана не должны ничего менять")
	}
}

func TestMembershipOnChangeEdges(t *testing.T) {
	var calls []bool
	d := NewMembershipDebouncer("Arceuus", func(inClan bool) { calls = append(calls, inClan) })

	d.Observe(present("Arceuus"))
	d.Observe(present("Arceuus"))
	for i := 0; i < absentReadThreshold; i++ {
		d.Observe(absent())
	}

	expected := []bool{true, false}
	if len(calls) != len(expected) {
		t.Fatalf("ожидали %d вызовов наблюдателя, получили %d", len(expected), len(calls))
	}
	for i, want := range expected {
		if calls[i] != want {
			t.Fatalf("вызов %d: ожидали %v, получили %v", i, want, calls[i])
		}
	}
}

func TestMembershipSetTarget(t *testing.T) {
	d := NewMembershipDebouncer("Arceuus", nil)
	d.SetTarget("Morytania")
	d.Observe(present("Arceuus"))
	if d.InClan() {
		t.Fatalf("после смены целевого клана старое имя не должно считаться членством")
	}
	d.Observe(present("Morytania"))
	if !d.InClan() {
		t.Fatalf("ожидали членство в новом целевом клане")
	}
}
