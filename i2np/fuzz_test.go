package i2np

import "testing"

// FuzzParse exercises Parse against arbitrary byte slices. Parse must never
// panic; it may only return a *routererr.Error.
func FuzzParse(f *testing.F) {
	f.Add([]byte{})
	f.Add(make([]byte, longHeaderLen))
	f.Add([]byte{byte(TypeData), 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 5, 0, 'h', 'e', 'l', 'l', 'o'})

	f.Fuzz(func(t *testing.T, data []byte) {
		m, err := Parse(data)
		if err != nil {
			if m != nil {
				t.Fatalf("Parse returned both a message and an error")
			}
			return
		}
		wire, err := m.Serialize()
		if err != nil {
			return
		}
		if _, err := Parse(wire); err != nil {
			t.Fatalf("re-parsing a freshly serialized message failed: %v", err)
		}
	})
}

// FuzzLength exercises Length against arbitrary byte slices for panics.
func FuzzLength(f *testing.F) {
	f.Add([]byte{})
	f.Add(make([]byte, longHeaderLen))

	f.Fuzz(func(t *testing.T, data []byte) {
		n, err := Length(data)
		if err == nil && n > len(data) {
			t.Fatalf("Length reported %d bytes but buffer only has %d", n, len(data))
		}
	})
}
