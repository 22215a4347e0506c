// Package typing implements the debounced typing indicator on both ends of
// the relay.
//
// Producer lives next to the local input widget. It emits a start signal on
// the first non-empty input and a single stop signal when the input empties,
// when the message is submitted, or when no input arrives for the idle delay.
// Repeated keystrokes while typing only re-arm the idle timer.
//
// Consumer lives next to the message view. It tracks which remote names are
// typing, dropping a name on its stop signal or when its display delay
// elapses without a refresh. Render turns the set into the indicator line.
//
// Timers:
//
// Each producer owns at most one timer and each consumer owns at most one
// timer per name. Re-arming creates the replacement timer before stopping the
// old one, and every timer carries a generation number; a callback whose
// generation is stale does nothing, so a late callback can never remove state
// created after it was superseded.
package typing
