// Package flash 遥测环形存储使用的持久化字节区域
//
// 区域以 EraseBlockSize 为擦除粒度，擦除后的字节为 0xFF。
package flash

import (
	"errors"
	"fmt"
	"io"
)

// Erased 擦除后的字节值
const Erased byte = 0xFF

var (
	// ErrOutOfRange 访问越过区域边界
	ErrOutOfRange = errors.New("flash access out of range")
	// ErrMisaligned 擦除范围未按擦除块对齐
	ErrMisaligned = errors.New("flash erase not aligned to erase block")
)

// Medium 持久化字节区域
type Medium interface {
	io.ReaderAt
	io.WriterAt
	// Size 区域容量
	Size() int
	// Erase 把 [off, off+n) 置为 Erased，off 和 n 必须是擦除块的整数倍
	Erase(off, n int) error
	// EraseBlockSize 擦除粒度，0 表示可以任意粒度擦除
	EraseBlockSize() int
	// EraseBeforeWrite 写入前是否必须擦除（NOR 写只能把 1 变成 0）
	EraseBeforeWrite() bool
}

func checkRange(size int, off int64, n int) error {
	if off < 0 || n < 0 || off+int64(n) > int64(size) {
		return fmt.Errorf("%w: [%d, %d) in region of %d bytes", ErrOutOfRange, off, off+int64(n), size)
	}
	return nil
}

func checkErase(size, block, off, n int) error {
	if err := checkRange(size, int64(off), n); err != nil {
		return err
	}
	if block > 0 && (off%block != 0 || n%block != 0) {
		return fmt.Errorf("%w: [%d, %d) with block %d", ErrMisaligned, off, off+n, block)
	}
	return nil
}

func erasedBytes(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = Erased
	}
	return p
}
