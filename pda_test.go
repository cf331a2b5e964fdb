package jmux

import (
	"fmt"
	"testing"
)

func TestPDAInitialState(t *testing.T) {
	p := newPDA()
	if p.State() != StateStart {
		t.Errorf("expected %v got %v", StateStart, p.State())
	}
	if _, ok := p.Top(); ok {
		t.Errorf("expected empty stack on a fresh pda")
	}
}

func TestPDAPushPopTop(t *testing.T) {
	for _, test := range []struct {
		name  string
		pushes []Mode
		want  Mode
	}{
		{"single root", []Mode{ModeRoot}, ModeRoot},
		{"nested object", []Mode{ModeRoot, ModeObject}, ModeObject},
		{"nested array", []Mode{ModeRoot, ModeArray}, ModeArray},
	} {
		t.Run(test.name, func(t *testing.T) {
			p := newPDA()
			for _, m := range test.pushes {
				p.Push(m)
			}
			top, ok := p.Top()
			if !ok {
				t.Fatalf("expected a top mode, got none")
			}
			if top != test.want {
				t.Errorf("expected %v got %v", test.want, top)
			}
		})
	}
}

func TestPDAPopEmpty(t *testing.T) {
	p := newPDA()
	if _, err := p.Pop(); err == nil {
		t.Errorf("expected an error popping an empty stack")
	}
}

func TestPDAStackSnapshotIsACopy(t *testing.T) {
	p := newPDA()
	p.Push(ModeRoot)
	snap := p.Stack()
	snap[0] = ModeArray
	if top, _ := p.Top(); top != ModeRoot {
		t.Errorf("mutating the snapshot must not affect the pda, got top %v", top)
	}
}

func TestPDASetState(t *testing.T) {
	p := newPDA()
	for _, s := range []State{StateExpectKey, StateParsingKey, StateExpectValue, StateEnd} {
		p.SetState(s)
		if p.State() != s {
			t.Errorf("expected %v got %v", s, p.State())
		}
	}
}

func Example_pda() {
	p := newPDA()
	p.Push(ModeRoot)
	top, _ := p.Top()
	fmt.Println(top)
	// Output: root
}
