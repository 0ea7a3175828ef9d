package reflow

// Category of user action that requested a reflow. Selects the debounce
// delay, the rate-limit policy and the caret restore strategy.
// ENUM(typing, enter, paste, delete, manualPageBreak, import, undoRedo, objectResized)
type Trigger int

// Discrete reports whether the trigger is a discrete event for which a caret
// marker can be placed. Typing is the exception: inserting and removing a
// marker on every keystroke would itself disturb the caret.
func (t Trigger) Discrete() bool {
	return t != TriggerTyping
}
