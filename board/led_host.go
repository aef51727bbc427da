//go:build !tinygo

package board

// DefaultLED returns the board's status LED. Hosts have none, so state
// changes are logged.
func DefaultLED() LED {
	return LogLED{Name: "status"}
}
