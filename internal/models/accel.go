package models

import "encoding/binary"

// FrameSize 单帧字节数（x, y, z 各 16 位）
const FrameSize = 6

// SensorFrame 单个三轴加速度采样，单位 milli-g
type SensorFrame struct {
	X int16 `json:"x"`
	Y int16 `json:"y"`
	Z int16 `json:"z"`
}

// Buffer 一次 FIFO 中断读出的一批采样
// 交给 EventBus 之后对所有订阅者只读
type Buffer struct {
	// Timestamp 单调时钟，自节点启动起的微秒数
	Timestamp int64         `json:"timestamp"`
	Frames    []SensorFrame `json:"frames"`
}

// EncodedSize 编码后的字节数
func (b *Buffer) EncodedSize() int {
	return len(b.Frames) * FrameSize
}

// Encode 以小端 int16 三元组编码所有帧，是环形存储中保存的原始字节
func (b *Buffer) Encode() []byte {
	out := make([]byte, b.EncodedSize())
	for i, f := range b.Frames {
		off := i * FrameSize
		binary.LittleEndian.PutUint16(out[off:], uint16(f.X))
		binary.LittleEndian.PutUint16(out[off+2:], uint16(f.Y))
		binary.LittleEndian.PutUint16(out[off+4:], uint16(f.Z))
	}
	return out
}

// DecodeFrames 解析 Encode 的输出，多余的不完整字节被忽略
func DecodeFrames(p []byte) []SensorFrame {
	frames := make([]SensorFrame, len(p)/FrameSize)
	for i := range frames {
		off := i * FrameSize
		frames[i] = SensorFrame{
			X: int16(binary.LittleEndian.Uint16(p[off:])),
			Y: int16(binary.LittleEndian.Uint16(p[off+2:])),
			Z: int16(binary.LittleEndian.Uint16(p[off+4:])),
		}
	}
	return frames
}
