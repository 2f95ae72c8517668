// Package typewriter reveals a target string one character per tick.
package typewriter

import "strings"

// Typewriter holds the displayed prefix of the latest target.
// It is not safe for concurrent use.
type Typewriter struct {
	target    []rune
	displayed int
	reset     bool
}

func New() *Typewriter {
	return &Typewriter{}
}

// SetTarget replaces the target. If the currently displayed text is not a
// prefix of the new target the display is cleared and the next tick yields
// the empty string before growth restarts. Otherwise growth continues from
// the current length.
func (t *Typewriter) SetTarget(target string) {
	shown := t.Displayed()
	t.target = []rune(target)
	if !strings.HasPrefix(target, shown) {
		t.displayed = 0
		t.reset = true
	}
}

// Tick advances the display by one character and reports whether the
// display now equals the target.
func (t *Typewriter) Tick() (string, bool) {
	if t.reset {
		t.reset = false
		return "", len(t.target) == 0
	}
	if t.displayed < len(t.target) {
		t.displayed++
	}
	return t.Displayed(), t.displayed == len(t.target)
}

// Displayed returns the currently revealed text.
func (t *Typewriter) Displayed() string {
	return string(t.target[:t.displayed])
}

// Done reports whether no further ticks are needed.
func (t *Typewriter) Done() bool {
	return !t.reset && t.displayed == len(t.target)
}
