// Package mempool recycles large []float32 buffers such as protection masks
// and detector input tensors, which are allocated once per image.
package mempool

import (
	"math/bits"
	"sync"
)

const minClass = 1 << 12

var float32Pools sync.Map // size class -> *sync.Pool

// sizeClass rounds n up to the next power of two, with a floor of minClass.
// Photos of the same camera produce the same class, so reuse is high.
func sizeClass(n int) int {
	if n <= minClass {
		return minClass
	}
	return 1 << bits.Len(uint(n-1))
}

func poolFor(cls int) *sync.Pool {
	if p, ok := float32Pools.Load(cls); ok {
		return p.(*sync.Pool)
	}
	p, _ := float32Pools.LoadOrStore(cls, &sync.Pool{
		New: func() any {
			buf := make([]float32, cls)
			return &buf
		},
	})
	return p.(*sync.Pool)
}

// GetFloat32 returns a buffer of length n. Contents are unspecified.
func GetFloat32(n int) []float32 {
	if n <= 0 {
		return nil
	}
	cls := sizeClass(n)
	bp := poolFor(cls).Get().(*[]float32)
	buf := *bp
	if cap(buf) < cls {
		buf = make([]float32, cls)
	}
	return buf[:n]
}

// GetFloat32Zeroed returns a buffer of length n with every element zero.
func GetFloat32Zeroed(n int) []float32 {
	buf := GetFloat32(n)
	clear(buf)
	return buf
}

// PutFloat32 hands buf back for reuse. Buffers that do not match a size class
// exactly were not produced by GetFloat32 and are dropped.
func PutFloat32(buf []float32) {
	c := cap(buf)
	if c < minClass || c != sizeClass(c) {
		return
	}
	full := buf[:c]
	poolFor(c).Put(&full)
}
