package fastview

// EleUpdate is an element identifier and a set of operations to apply to its attributes or content.
type EleUpdate struct {
	// The id by which to find the element
	EleID string `json:"id"`
	// Op keys are attribute names or 'textContent', a reserved key: ('textContent','abc')
	// means 'set ele.textContent to abc'.
	Ops []Op `json:"ops"`
}

// Op is a key and value, for example an attribute and its new value.
type Op struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
