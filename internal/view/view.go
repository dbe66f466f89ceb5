// Package view enumerates the dashboard views and the navigation allowed between them.
package view

import (
	"fmt"
	"strings"
)

// View is a dashboard page.
type View uint8

const (
	Login View = iota
	SignUp
	Leaderboard
	Profile
	Compare
	Achievements
	Activity
	numViews
)

var names = [numViews]string{
	Login:        "login",
	SignUp:       "sign_up",
	Leaderboard:  "leaderboard",
	Profile:      "profile",
	Compare:      "compare",
	Achievements: "achievements",
	Activity:     "activity",
}

// All lists every view in declaration order.
func All() []View {
	out := make([]View, 0, numViews)
	for v := View(0); v < numViews; v++ {
		out = append(out, v)
	}
	return out
}

func (v View) Valid() bool { return v < numViews }

func (v View) String() string {
	if !v.Valid() {
		return fmt.Sprintf("view(%d)", uint8(v))
	}
	return names[v]
}

// RequiresAuth reports whether v is only reachable by a signed in user.
func (v View) RequiresAuth() bool { return v != Login && v != SignUp }

// Parse returns the view named s. Names are case-insensitive and accept
// spaces or dashes for underscores.
func Parse(s string) (View, error) {
	norm := strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(strings.TrimSpace(s)))
	for v, name := range names {
		if name == norm {
			return View(v), nil
		}
	}
	return 0, fmt.Errorf("unknown view %q", s)
}

func (v View) MarshalText() ([]byte, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("invalid view %d", uint8(v))
	}
	return []byte(v.String()), nil
}

func (v *View) UnmarshalText(b []byte) error {
	p, err := Parse(string(b))
	if err != nil {
		return err
	}
	*v = p
	return nil
}

var authenticated = []View{Leaderboard, Profile, Compare, Achievements, Activity}

// transitions[from][to] is true when navigating from -> to is allowed.
var transitions = func() [numViews][numViews]bool {
	var t [numViews][numViews]bool
	t[Login][SignUp] = true
	t[Login][Leaderboard] = true
	t[SignUp][Login] = true
	for _, from := range authenticated {
		for _, to := range authenticated {
			t[from][to] = true
		}
		t[from][Login] = true
	}
	return t
}()

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to View) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return transitions[from][to]
}

// Next lists the views reachable from v in declaration order.
func Next(v View) []View {
	var out []View
	for _, to := range All() {
		if CanTransition(v, to) {
			out = append(out, to)
		}
	}
	return out
}

// TransitionError reports a disallowed navigation.
type TransitionError struct {
	From, To View
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot navigate from %s to %s", e.From, e.To)
}

// Navigate returns to when from -> to is allowed.
func Navigate(from, to View) (View, error) {
	if !CanTransition(from, to) {
		return from, &TransitionError{From: from, To: to}
	}
	return to, nil
}
