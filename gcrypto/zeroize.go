package gcrypto

import (
	"crypto/subtle"
	"runtime"
)

// ZeroBytes securely erases the contents of a byte slice containing
// sensitive data using a constant-time XOR the compiler cannot optimize
// away (x XOR x = 0), matching the teacher's crypto.SecureWipe approach.
func ZeroBytes(data []byte) {
	if len(data) == 0 {
		return
	}
	subtle.XORBytes(data, data, data)
	runtime.KeepAlive(data)
}
