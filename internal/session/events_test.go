package session

import "testing"

func TestKnownAction(t *testing.T) {
	for name := range knownActions {
		if !KnownAction(name) {
			t.Errorf("KnownAction(%q) = false, want true", name)
		}
	}
	for _, name := range []string{"", "dropTables", "startgame", "START_GAME"} {
		if KnownAction(name) {
			t.Errorf("KnownAction(%q) = true, want false", name)
		}
	}
}
