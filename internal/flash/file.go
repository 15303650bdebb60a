package flash

import (
	"fmt"
	"os"
)

// FileFlash 以预分配文件保存区域，写入直接覆盖
type FileFlash struct {
	f     *os.File
	size  int
	block int
}

// OpenFileFlash 打开或创建 size 字节的区域文件
func OpenFileFlash(path string, size, eraseBlock int) (*FileFlash, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open flash file %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to size flash file %s: %w", path, err)
	}
	return &FileFlash{f: f, size: size, block: eraseBlock}, nil
}

func (m *FileFlash) Size() int              { return m.size }
func (m *FileFlash) EraseBlockSize() int    { return m.block }
func (m *FileFlash) EraseBeforeWrite() bool { return false }

// ReadAt 读取区域内容
func (m *FileFlash) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(m.size, off, len(p)); err != nil {
		return 0, err
	}
	return m.f.ReadAt(p, off)
}

// WriteAt 写入区域
func (m *FileFlash) WriteAt(p []byte, off int64) (int, error) {
	if err := checkRange(m.size, off, len(p)); err != nil {
		return 0, err
	}
	return m.f.WriteAt(p, off)
}

// Erase 以 Erased 填充范围
func (m *FileFlash) Erase(off, n int) error {
	if err := checkErase(m.size, m.block, off, n); err != nil {
		return err
	}
	if _, err := m.f.WriteAt(erasedBytes(n), int64(off)); err != nil {
		return fmt.Errorf("failed to erase flash file: %w", err)
	}
	return nil
}

// Sync 刷盘
func (m *FileFlash) Sync() error {
	return m.f.Sync()
}

// Close 关闭文件
func (m *FileFlash) Close() error {
	return m.f.Close()
}
