// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"fmt"
	"unicode"
)

// AbstractKey names a host-independent key identity an InputTranslator
// produces from an X11 keysym, grounded on the keyTable in
// original_source/RfbInputEventHandler.cpp. The host window sink (outside
// this package's scope, per spec §1) maps these onto whatever native key
// codes its windowing system expects.
type AbstractKey string

// Abstract key identities for keys without a printable text representation.
const (
	KeyBackspace   AbstractKey = "Backspace"
	KeyTab         AbstractKey = "Tab"
	KeyReturn      AbstractKey = "Return"
	KeyEscape      AbstractKey = "Escape"
	KeyInsert      AbstractKey = "Insert"
	KeyDelete      AbstractKey = "Delete"
	KeyHome        AbstractKey = "Home"
	KeyEnd         AbstractKey = "End"
	KeyPageUp      AbstractKey = "PageUp"
	KeyPageDown    AbstractKey = "PageDown"
	KeyLeft        AbstractKey = "Left"
	KeyUp          AbstractKey = "Up"
	KeyRight       AbstractKey = "Right"
	KeyDown        AbstractKey = "Down"
	KeyShift       AbstractKey = "Shift"
	KeyControl     AbstractKey = "Control"
	KeyAlt         AbstractKey = "Alt"
	KeyMeta        AbstractKey = "Meta"
	KeySuper       AbstractKey = "Super"
	KeyCapsLock    AbstractKey = "CapsLock"
	KeyPrint       AbstractKey = "Print"
	KeyPause       AbstractKey = "Pause"
	KeyScrollLock  AbstractKey = "ScrollLock"
	KeyMenu        AbstractKey = "Menu"
	KeyF1          AbstractKey = "F1"
	KeyKPAsterisk  AbstractKey = "KP_Asterisk"
	KeyKPPlus      AbstractKey = "KP_Plus"
	KeyKPMinus     AbstractKey = "KP_Minus"
	KeyKPPeriod    AbstractKey = "KP_Period"
	KeyKPSlash     AbstractKey = "KP_Slash"
	KeyDeadGrave   AbstractKey = "DeadGrave"
	KeyUnknown     AbstractKey = ""
)

// keyTable is the X11 keysym -> AbstractKey table, reproduced from
// original_source/RfbInputEventHandler.cpp's keyTable in full, covering
// spec §6's required minimum plus the keypad/navigation alias block
// (0xff95-0xff9f) that duplicates the primary navigation keys for
// keypad-with-NumLock-off operation.
var keyTable = map[uint32]AbstractKey{
	0xff08: KeyBackspace,
	0xff09: KeyTab,
	0xff0d: KeyReturn,
	0xff8d: KeyReturn, // keypad Enter
	0xff1b: KeyEscape,
	0xff63: KeyInsert,
	0xffff: KeyDelete,
	0xff50: KeyHome,
	0xff57: KeyEnd,
	0xff55: KeyPageUp,
	0xff56: KeyPageDown,
	0xff51: KeyLeft,
	0xff52: KeyUp,
	0xff53: KeyRight,
	0xff54: KeyDown,
	0xffe1: KeyShift,
	0xffe2: KeyShift,
	0xffe3: KeyControl,
	0xffe4: KeyControl,
	0xffe7: KeyMeta,
	0xffe8: KeyMeta,
	0xffe9: KeyAlt,
	0xffea: KeyAlt,
	0xffe5: KeyCapsLock,
	0xff61: KeyPrint,
	0xff13: KeyPause,
	0xff14: KeyScrollLock,
	0xff67: KeyMenu,

	// Keypad operator keys.
	0xffaa: KeyKPAsterisk,
	0xffab: KeyKPPlus,
	0xffad: KeyKPMinus,
	0xffae: KeyKPPeriod,
	0xffaf: KeyKPSlash,

	// Keypad navigation aliases (NumLock off): same abstract keys as the
	// primary block above.
	0xff95: KeyHome,
	0xff96: KeyLeft,
	0xff97: KeyUp,
	0xff98: KeyRight,
	0xff99: KeyDown,
	0xff9a: KeyPageUp,
	0xff9b: KeyPageDown,
	0xff9c: KeyEnd,
	0xff9d: KeyEnd, // begin-of-line alias, collapses to End per original table
	0xff9e: KeyInsert,
	0xff9f: KeyDelete,
}

// deadKeyBase is the first dead-key keysym (DeadGrave); dead keys occupy
// 0xFE50..0xFE6F, mapped by offset from this base (spec §4.3 rule 2).
const deadKeyBase = 0xfe50

// functionKeyBase is the first function-key keysym (F1); function keys
// occupy 0xFFBE..0xFFE0, mapped by offset from this base (spec §4.3 rule 3).
const functionKeyBase = 0xffbe

// functionKeyMax is the last keysym in the function-key range.
const functionKeyMax = 0xffe0

// keypadDigitBase is the first keypad-digit keysym; keypad digits occupy
// 0xFFB0..0xFFB9, mapped onto '0'..'9' (spec §4.3 rule 4).
const keypadDigitBase = 0xffb0

// keyText reproduces original_source/RfbInputEventHandler.cpp's keyText():
// the classical control characters \a \b \t \n \v \f \r for keysyms
// 0x07..0x0D (TranslateKey produces the same characters for Control+G..M,
// since keyText itself sees no modifier state) plus "Space..ydiaeresis is
// the only printable range" rule. It is
// exposed as Translation.Text, with the original's letter case preserved
// (unlike Translation.Key, which is always uppercased per spec §4.3 rule 1).
func keyText(keysym uint32) string {
	switch keysym {
	case 0xff08: // Backspace
		return "\b"
	case 0xff09: // Tab
		return "\t"
	case 0xff0d, 0xff8d: // Return / keypad Enter
		return "\r"
	case 0xff1b: // Escape
		return "\x1b"
	}

	// Control characters: bell, backspace, tab, linefeed, vtab, formfeed, CR.
	if keysym >= 0x0007 && keysym <= 0x000d {
		return string(rune(keysym))
	}

	// Printable range: Space (0x20) through ydiaeresis (0xff, Latin-1
	// upper half maps 1:1 onto its keysym in this range).
	if keysym >= 0x0020 && keysym <= 0x00ff {
		return string(rune(keysym))
	}

	if keysym >= keypadDigitBase && keysym <= keypadDigitBase+9 {
		return string(rune('0' + (keysym - keypadDigitBase)))
	}

	return ""
}

// keyForKeysym applies spec §4.3's ordered keysym->AbstractKey mapping
// rules: Latin-1 printables (uppercased), dead keys, function keys, keypad
// digits, then the static keyTable.
func keyForKeysym(keysym uint32) AbstractKey {
	if keysym <= 0xff {
		if keysym >= 0x0020 && keysym <= 0x00ff {
			return AbstractKey(string(unicode.ToUpper(rune(keysym))))
		}
		return keyTable[keysym]
	}

	if keysym >= deadKeyBase && keysym <= 0xfe6f {
		offset := keysym - deadKeyBase
		if offset == 0 {
			return KeyDeadGrave
		}
		return AbstractKey(fmt.Sprintf("DeadGrave+%d", offset))
	}

	if keysym >= functionKeyBase && keysym <= functionKeyMax {
		return AbstractKey(fmt.Sprintf("F%d", keysym-functionKeyBase+1))
	}

	if keysym >= keypadDigitBase && keysym <= keypadDigitBase+9 {
		return AbstractKey(fmt.Sprintf("KP_%d", keysym-keypadDigitBase))
	}

	return keyTable[keysym]
}

// Translation is the result of translating one RFB KeyEvent into a
// host-independent description.
type Translation struct {
	Key  AbstractKey // non-empty for keys with a dedicated identity
	Text string      // non-empty for keys that also produce printable/control text
	Down bool
}

// InputTranslator maps X11 keysym codes and RFB pointer button masks to
// host-independent input events, grounded on
// original_source/RfbInputEventHandler.cpp.
type InputTranslator struct {
	// WheelDeltasPerStep scales Button4/5/6/7 wheel events into a delta
	// magnitude. The original multiplies by Qt::QWheelEvent's
	// DefaultDeltasPerStep (120); this is exposed as a configurable field
	// rather than hardcoded, since the host window sink is external to
	// this package (spec §2.4).
	WheelDeltasPerStep int

	modifiers   map[AbstractKey]bool
	buttonState ButtonMask
}

// NewInputTranslator creates a translator with the standard wheel scaling.
func NewInputTranslator() *InputTranslator {
	return &InputTranslator{
		WheelDeltasPerStep: 120,
		modifiers:          make(map[AbstractKey]bool),
	}
}

// TranslateKey converts one KeyEvent's keysym/down pair into a Translation.
// It also tracks modifier key state (Shift/Control/Alt/CapsLock) so callers
// can query CurrentModifiers for subsequent events.
func (it *InputTranslator) TranslateKey(keysym uint32, down bool) Translation {
	key := keyForKeysym(keysym)

	switch key {
	case KeyShift, KeyControl, KeyAlt, KeyMeta, KeySuper, KeyCapsLock:
		it.modifiers[key] = down
	}

	text := keyText(keysym)
	// Control+G..M produce the classical control characters \a..\r.
	if it.modifiers[KeyControl] && ((keysym >= 'g' && keysym <= 'm') || (keysym >= 'G' && keysym <= 'M')) {
		text = string(rune((keysym &^ 0x20) - 0x40))
	}

	return Translation{
		Key:  key,
		Text: text,
		Down: down,
	}
}

// CurrentModifiers reports which tracked modifier keys are currently held.
func (it *InputTranslator) CurrentModifiers() map[AbstractKey]bool {
	out := make(map[AbstractKey]bool, len(it.modifiers))
	for k, v := range it.modifiers {
		if v {
			out[k] = true
		}
	}
	return out
}

// PointerEventKind names the single event a PointerEvent reduces to: exactly
// one of Press, Release, Move, or Wheel (spec §4.3).
type PointerEventKind string

// Pointer event kinds.
const (
	PointerPress   PointerEventKind = "Press"
	PointerRelease PointerEventKind = "Release"
	PointerMove    PointerEventKind = "Move"
	PointerWheel   PointerEventKind = "Wheel"
)

// PointerTranslation is the result of translating one RFB PointerEvent.
type PointerTranslation struct {
	X, Y uint16
	Kind PointerEventKind

	// Button is the single button that changed state, valid for
	// Press/Release only.
	Button ButtonMask

	// WheelDeltaX/WheelDeltaY are valid for Kind == PointerWheel only.
	WheelDeltaX, WheelDeltaY int

	// Modifiers is the tracked modifier key state at the moment of this
	// event, valid for Kind == PointerWheel only (nil for Press/Release/
	// Move).
	Modifiers map[AbstractKey]bool
}

// wheelButtonMask is the set of button-mask bits that represent wheel
// motion rather than a persistent button (spec §4.3 bits 3-6).
const wheelButtonMask = Button4 | Button5 | Button6 | Button7

// persistentButtonMask is the set of button-mask bits that represent a
// held button, tracked across calls to derive Press/Release/Move.
const persistentButtonMask = ButtonLeft | ButtonMiddle | ButtonRight

// TranslatePointer converts an RFB pointer button mask and position into a
// host-independent pointer event (spec §4.3). If any wheel bit is set, it
// emits a Wheel event with the delta scaled by WheelDeltasPerStep and
// leaves the tracked button state untouched. Otherwise it XORs the new
// Left/Middle/Right button set against the previously tracked one to find
// the single button that changed, emitting Press (newly held), Release (no
// longer held), or Move (no change).
func (it *InputTranslator) TranslatePointer(mask ButtonMask, x, y uint16) PointerTranslation {
	if mask&wheelButtonMask != 0 {
		pt := PointerTranslation{X: x, Y: y, Kind: PointerWheel, Modifiers: it.CurrentModifiers()}
		if mask&Button4 != 0 {
			pt.WheelDeltaY += it.WheelDeltasPerStep
		}
		if mask&Button5 != 0 {
			pt.WheelDeltaY -= it.WheelDeltasPerStep
		}
		if mask&Button6 != 0 {
			pt.WheelDeltaX -= it.WheelDeltasPerStep
		}
		if mask&Button7 != 0 {
			pt.WheelDeltaX += it.WheelDeltasPerStep
		}
		return pt
	}

	newState := mask & persistentButtonMask
	changed := newState ^ it.buttonState

	pt := PointerTranslation{X: x, Y: y, Button: changed}
	switch {
	case changed == 0:
		pt.Kind = PointerMove
	case newState&changed != 0:
		pt.Kind = PointerPress
	default:
		pt.Kind = PointerRelease
	}

	it.buttonState = newState
	return pt
}
