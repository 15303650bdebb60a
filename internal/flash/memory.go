package flash

import "sync"

// MemoryFlash 内存中的 NOR flash 模型
// 写入只能清零位（与原值按位与），未擦除就覆盖写会产生错误数据，
// 由写后校验发现
type MemoryFlash struct {
	mu    sync.RWMutex
	data  []byte
	block int
}

// NewMemoryFlash 创建已擦除的区域
func NewMemoryFlash(size, eraseBlock int) *MemoryFlash {
	return &MemoryFlash{data: erasedBytes(size), block: eraseBlock}
}

func (m *MemoryFlash) Size() int              { return len(m.data) }
func (m *MemoryFlash) EraseBlockSize() int    { return m.block }
func (m *MemoryFlash) EraseBeforeWrite() bool { return true }

// ReadAt 读取区域内容
func (m *MemoryFlash) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(len(m.data), off, len(p)); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copy(p, m.data[off:]), nil
}

// WriteAt 按 NOR 语义写入
func (m *MemoryFlash) WriteAt(p []byte, off int64) (int, error) {
	if err := checkRange(len(m.data), off, len(p)); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	dst := m.data[off : off+int64(len(p))]
	for i, b := range p {
		dst[i] &= b
	}
	return len(p), nil
}

// Erase 擦除擦除块对齐的范围
func (m *MemoryFlash) Erase(off, n int) error {
	if err := checkErase(len(m.data), m.block, off, n); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := off; i < off+n; i++ {
		m.data[i] = Erased
	}
	return nil
}
