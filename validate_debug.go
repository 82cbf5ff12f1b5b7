//go:build debug_chainmem

package chainmem

const (
	// DebugFillEnabled indicates whether freshly allocated and freed payload bytes are
	// overwritten with recognizable fill patterns. It is true only when the module is
	// built with the debug_chainmem build tag.
	DebugFillEnabled bool = true

	// CreatedFillPattern is the byte written across a payload when it is handed out
	CreatedFillPattern uint8 = 0xDC
	// DestroyedFillPattern is the byte written across a payload when it is freed
	DestroyedFillPattern uint8 = 0xEF
)

// DebugFill overwrites size bytes at offset with the provided pattern. This method
// no-ops unless the debug_chainmem build tag is present.
func DebugFill(data []byte, offset, size uint32, pattern uint8) {
	region := data[offset : offset+size]
	for i := range region {
		region[i] = pattern
	}
}

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_chainmem build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics if it is not.
// This method no-ops unless the debug_chainmem build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}
