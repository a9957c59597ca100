package schema

// Enum is an append-only value to code dictionary. The first occurrence of
// a value gets the next code.
type Enum struct {
	codes  map[string]int
	values []string
}

func NewEnum() *Enum {
	return &Enum{codes: make(map[string]int)}
}

// Code returns the code of value, allocating one if needed.
func (e *Enum) Code(value string) int {
	if code, ok := e.codes[value]; ok {
		return code
	}
	code := len(e.values)
	e.codes[value] = code
	e.values = append(e.values, value)
	return code
}

// Decode maps a code back to its value.
func (e *Enum) Decode(code int) (string, bool) {
	if code < 0 || code >= len(e.values) {
		return "", false
	}
	return e.values[code], true
}

// Values returns the interned values in code order.
func (e *Enum) Values() []string {
	out := make([]string, len(e.values))
	copy(out, e.values)
	return out
}

func (e *Enum) Len() int {
	return len(e.values)
}
