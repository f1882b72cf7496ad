package alerts

import (
	"strings"
	"testing"
	"time"

	"github.com/stashwatch/stashwatch/internal/alert"
)

func sample(n int) []alert.Alert {
	out := make([]alert.Alert, n)
	for i := range out {
		out[i] = alert.Alert{
			Subject:    "Object" + string(rune('A'+i)),
			Action:     "moved",
			ObservedAt: time.Now().Add(-time.Duration(i) * time.Minute),
		}
	}
	return out
}

func TestSetKeepsMostRecentFive(t *testing.T) {
	m := New()
	m.Set(sample(8), 8)
	if len(m.Alerts) != Shown {
		t.Fatalf("len = %d, want %d", len(m.Alerts), Shown)
	}
	if m.Alerts[0].Subject != "ObjectA" {
		t.Errorf("first = %s, want the most recent", m.Alerts[0].Subject)
	}
}

func TestViewEmpty(t *testing.T) {
	if v := New().View(); !strings.Contains(v, "Nothing has moved") {
		t.Errorf("empty view = %q", v)
	}
}

func TestViewListsAlerts(t *testing.T) {
	m := New()
	m.Width = 100
	list := sample(2)
	list[1].Message = "Backpack left the desk"
	m.Set(list, 9)

	v := m.View()
	for _, want := range []string{"ObjectA", "ObjectB", "moved", "Backpack left the desk", "(2 of 9)"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q:\n%s", want, v)
		}
	}
}

func TestViewHidesDefaultMessage(t *testing.T) {
	m := New()
	m.Width = 100
	m.Set([]alert.Alert{{Subject: "Laptop", Action: "removed", Message: "Laptop was removed"}}, 1)
	if strings.Contains(m.View(), "Laptop was removed") {
		t.Error("message equal to the default text should not be repeated")
	}
}
