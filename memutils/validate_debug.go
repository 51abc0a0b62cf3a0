//go:build debug_mem_utils

package memutils

import (
	"fmt"
	"unsafe"
)

const (
	// CorruptionDetection reports whether free memory managed by memutils is stamped with
	// magic values and verified before reuse
	CorruptionDetection bool = true
	// corruptionDetectionMagicValue is a 4-byte pattern that is copied across the data area of
	// every free chunk
	corruptionDetectionMagicValue uint32 = 0x7F84E666
)

// WriteMagicValue writes an easy-to-identify marker across size bytes at the provided pointer.
// This method no-ops unless the debug_mem_utils build tag is present.
func WriteMagicValue(data unsafe.Pointer, size uintptr) {
	words := unsafe.Slice((*uint32)(data), size/unsafe.Sizeof(uint32(0)))
	for i := range words {
		words[i] = corruptionDetectionMagicValue
	}
}

// ValidateMagicValue verifies that the easy-to-identify marker written by WriteMagicValue is still present
// across size bytes at data. It returns true if the value is still present and false otherwise.
// This method no-ops unless the debug_mem_utils build tag is present.
func ValidateMagicValue(data unsafe.Pointer, size uintptr) bool {
	words := unsafe.Slice((*uint32)(data), size/unsafe.Sizeof(uint32(0)))
	for _, word := range words {
		if word != corruptionDetectionMagicValue {
			return false
		}
	}

	return true
}

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_mem_utils build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics if it is not.
// This method no-ops unless the debug_mem_utils build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}

// DebugAssert panics with the formatted message if cond is false.
// This method no-ops unless the debug_mem_utils build tag is present.
func DebugAssert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
