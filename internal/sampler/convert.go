package sampler

import (
	"encoding/binary"

	"github.com/overwasher/sensor-node/internal/models"
)

// 满量程 ±16g 对应 ±32768 原始值
const (
	fullScaleMilliG = 16000
	rawSpan         = 32768
)

// ScaleRaw 原始值换算为 milli-g
// 整数除法向零截断，因此 ScaleRaw(-v) == -ScaleRaw(v)
func ScaleRaw(raw int16) int16 {
	return int16(int32(raw) * fullScaleMilliG / rawSpan)
}

// DecodeFIFO 把 FIFO 中的大端帧解码并换算
func DecodeFIFO(p []byte, frames []models.SensorFrame) []models.SensorFrame {
	n := len(p) / models.FrameSize
	frames = frames[:0]
	for i := 0; i < n; i++ {
		off := i * models.FrameSize
		frames = append(frames, models.SensorFrame{
			X: ScaleRaw(int16(binary.BigEndian.Uint16(p[off:]))),
			Y: ScaleRaw(int16(binary.BigEndian.Uint16(p[off+2:]))),
			Z: ScaleRaw(int16(binary.BigEndian.Uint16(p[off+4:]))),
		})
	}
	return frames
}
