package reflow

import (
	"time"

	"repage/config"
)

// OptionsFromConfig converts the engine section of the program configuration
// into scheduler options. Zero values keep the built-in defaults.
func OptionsFromConfig(cfg config.EngineConfig) []Option {
	var opts []Option
	if d := cfg.TypingInterval(); d > 0 {
		opts = append(opts, WithTypingInterval(d))
	}
	for trigger, ms := range map[Trigger]int{
		TriggerTyping:          cfg.Debounce.TypingMs,
		TriggerEnter:           cfg.Debounce.EnterMs,
		TriggerPaste:           cfg.Debounce.PasteMs,
		TriggerDelete:          cfg.Debounce.DeleteMs,
		TriggerManualPageBreak: cfg.Debounce.ManualPageBreakMs,
		TriggerImport:          cfg.Debounce.ImportMs,
		TriggerUndoRedo:        cfg.Debounce.UndoRedoMs,
		TriggerObjectResized:   cfg.Debounce.ObjectResizedMs,
	} {
		if ms > 0 {
			opts = append(opts, WithDelay(trigger, time.Duration(ms)*time.Millisecond))
		}
	}
	return opts
}
