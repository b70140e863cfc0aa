// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package compress applies snappy compression to a sealed block's payload
// before fountain encoding. The teacher's std/comp.go wraps a whole net.Conn
// in a streaming snappy.Writer/Reader; here the unit of compression is a
// single already-sealed block, because the fountain encoder needs to know
// the final byte length before it can derive K (spec.md §4.3).
package compress

import "github.com/golang/snappy"

// Encode compresses payload and reports whether the compressed form was
// actually used. Compression is skipped (ok=false) when the compressed
// output would not be smaller, so incompressible blocks (already-compressed
// uploads, ciphertext passed through by the TCP client) never pay a size
// penalty for the attempt.
func Encode(payload []byte) (out []byte, ok bool) {
	if len(payload) == 0 {
		return payload, false
	}
	compressed := snappy.Encode(nil, payload)
	if len(compressed) >= len(payload) {
		return payload, false
	}
	return compressed, true
}

// Decode reverses Encode. Callers must only call this when the block's wire
// header recorded FlagCompressed; otherwise payload is already plaintext.
func Decode(payload []byte) ([]byte, error) {
	return snappy.Decode(nil, payload)
}
