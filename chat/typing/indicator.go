package typing

import "fmt"

// Render formats the typing indicator line for names.
func Render(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s is typing...", names[0])
	case 2:
		return fmt.Sprintf("%s and %s are typing...", names[0], names[1])
	default:
		return fmt.Sprintf("%s and %d others are typing...", names[0], len(names)-1)
	}
}
