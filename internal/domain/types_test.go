package domain

import "testing"

func TestCallStateActive(t *testing.T) {
	t.Parallel()

	cases := map[CallState]bool{
		CallStateDisabled:   false,
		CallStateIdle:       false,
		CallStateConnecting: true,
		CallStateWaiting:    true,
		CallStateSpeaking:   true,
	}
	for state, want := range cases {
		if got := state.Active(); got != want {
			t.Fatalf("%s: expected active=%v, got %v", state, want, got)
		}
	}
}

func TestVolumeTierNextWraps(t *testing.T) {
	t.Parallel()

	tier := DefaultVolumeTier
	var seen []VolumeTier
	for i := 0; i < VolumeTierCount; i++ {
		tier = tier.Next()
		seen = append(seen, tier)
	}
	want := []VolumeTier{3, 0, 1, 2}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("unexpected tier sequence: %v", seen)
		}
	}
}

func TestFormatElapsed(t *testing.T) {
	t.Parallel()

	cases := map[int]string{-3: "00:00", 0: "00:00", 9: "00:09", 75: "01:15", 3600: "60:00"}
	for seconds, want := range cases {
		if got := FormatElapsed(seconds); got != want {
			t.Fatalf("FormatElapsed(%d) = %q, want %q", seconds, got, want)
		}
	}
}
