// Package board holds board bring-up that is not USB or storage: the
// heartbeat LED of the application loop.
//
// With TinyGo, [DefaultLED] is the on-board LED pin. Elsewhere it is a
// [LogLED] that reports state changes through the debug log.
package board
