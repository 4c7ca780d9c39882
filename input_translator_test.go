// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import "testing"

func TestKeyForKeysym_Latin1PrintablesUppercased(t *testing.T) {
	tests := []struct {
		keysym uint32
		want   AbstractKey
	}{
		{'a', "A"},
		{'z', "Z"},
		{'A', "A"},
		{'5', "5"},
		{' ', " "},
	}

	for _, tt := range tests {
		if got := keyForKeysym(tt.keysym); got != tt.want {
			t.Errorf("keyForKeysym(%#x) = %q, want %q", tt.keysym, got, tt.want)
		}
	}
}

func TestKeyForKeysym_DeadKeys(t *testing.T) {
	if got := keyForKeysym(0xfe50); got != KeyDeadGrave {
		t.Errorf("keyForKeysym(0xfe50) = %q, want %q", got, KeyDeadGrave)
	}
	if got := keyForKeysym(0xfe51); got != "DeadGrave+1" {
		t.Errorf("keyForKeysym(0xfe51) = %q, want %q", got, "DeadGrave+1")
	}
}

func TestKeyForKeysym_FunctionKeys(t *testing.T) {
	if got := keyForKeysym(0xffbe); got != "F1" {
		t.Errorf("keyForKeysym(0xffbe) = %q, want F1", got)
	}
	if got := keyForKeysym(0xffbf); got != "F2" {
		t.Errorf("keyForKeysym(0xffbf) = %q, want F2", got)
	}
}

func TestKeyForKeysym_KeypadDigits(t *testing.T) {
	if got := keyForKeysym(0xffb0); got != "KP_0" {
		t.Errorf("keyForKeysym(0xffb0) = %q, want KP_0", got)
	}
	if got := keyForKeysym(0xffb9); got != "KP_9" {
		t.Errorf("keyForKeysym(0xffb9) = %q, want KP_9", got)
	}
}

func TestKeyForKeysym_StaticTable(t *testing.T) {
	tests := []struct {
		keysym uint32
		want   AbstractKey
	}{
		{0xff08, KeyBackspace},
		{0xff0d, KeyReturn},
		{0xff8d, KeyReturn},
		{0xff1b, KeyEscape},
		{0xff51, KeyLeft},
		{0xffe1, KeyShift},
		{0xffe7, KeyMeta},
		{0xff61, KeyPrint},
		{0xff13, KeyPause},
		{0xff14, KeyScrollLock},
		{0xff67, KeyMenu},
		{0xffaa, KeyKPAsterisk},
		{0xff95, KeyHome},
	}

	for _, tt := range tests {
		if got := keyForKeysym(tt.keysym); got != tt.want {
			t.Errorf("keyForKeysym(%#x) = %q, want %q", tt.keysym, got, tt.want)
		}
	}
}

func TestTranslateKey_TracksModifierState(t *testing.T) {
	it := NewInputTranslator()

	it.TranslateKey(0xffe1, true) // Shift down
	mods := it.CurrentModifiers()
	if !mods[KeyShift] {
		t.Fatal("expected Shift to be tracked as held")
	}

	it.TranslateKey(0xffe1, false) // Shift up
	mods = it.CurrentModifiers()
	if mods[KeyShift] {
		t.Fatal("expected Shift to be tracked as released")
	}
}

func TestKeyText(t *testing.T) {
	tests := []struct {
		keysym uint32
		want   string
	}{
		{0xff08, "\b"},
		{0xff09, "\t"},
		{0xff0d, "\r"},
		{0xff8d, "\r"},
		{0xff1b, "\x1b"},
		{'a', "a"},
		{'A', "A"},
		{0xffb3, "3"}, // keypad digit 3
		{0xffe1, ""},  // Shift has no text
	}

	for _, tt := range tests {
		if got := keyText(tt.keysym); got != tt.want {
			t.Errorf("keyText(%#x) = %q, want %q", tt.keysym, got, tt.want)
		}
	}
}

func TestTranslatePointer_PressReleaseMove(t *testing.T) {
	it := NewInputTranslator()

	press := it.TranslatePointer(ButtonLeft, 10, 20)
	if press.Kind != PointerPress || press.Button != ButtonLeft {
		t.Fatalf("expected Press/Left, got %+v", press)
	}

	move := it.TranslatePointer(ButtonLeft, 15, 25)
	if move.Kind != PointerMove {
		t.Fatalf("expected Move when button state unchanged, got %+v", move)
	}

	release := it.TranslatePointer(0, 15, 25)
	if release.Kind != PointerRelease || release.Button != ButtonLeft {
		t.Fatalf("expected Release/Left, got %+v", release)
	}
}

func TestTranslatePointer_Wheel(t *testing.T) {
	it := NewInputTranslator()

	up := it.TranslatePointer(Button4, 0, 0)
	if up.Kind != PointerWheel || up.WheelDeltaY != it.WheelDeltasPerStep {
		t.Fatalf("expected wheel up, got %+v", up)
	}

	down := it.TranslatePointer(Button5, 0, 0)
	if down.Kind != PointerWheel || down.WheelDeltaY != -it.WheelDeltasPerStep {
		t.Fatalf("expected wheel down, got %+v", down)
	}

	left := it.TranslatePointer(Button6, 0, 0)
	if left.Kind != PointerWheel || left.WheelDeltaX != -it.WheelDeltasPerStep {
		t.Fatalf("expected wheel left, got %+v", left)
	}

	right := it.TranslatePointer(Button7, 0, 0)
	if right.Kind != PointerWheel || right.WheelDeltaX != it.WheelDeltasPerStep {
		t.Fatalf("expected wheel right, got %+v", right)
	}
}

func TestTranslatePointer_WheelDoesNotAffectButtonState(t *testing.T) {
	it := NewInputTranslator()

	it.TranslatePointer(ButtonLeft, 0, 0) // press left
	it.TranslatePointer(Button4, 0, 0)    // wheel up, should not disturb left state

	move := it.TranslatePointer(ButtonLeft, 0, 0)
	if move.Kind != PointerMove {
		t.Fatalf("expected Move (left still held), got %+v", move)
	}
}
