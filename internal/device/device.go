// Package device 描述加速度传感器及其中断线的能力接口
// 寄存器级总线协议不在本仓库范围内，由具体驱动实现这些接口
package device

// SampleRate 采样率（Hz）
type SampleRate int

// FullScaleRange 满量程
type FullScaleRange int

const (
	Range2G FullScaleRange = iota
	Range4G
	Range8G
	Range16G
)

// MilliG 返回满量程对应的 milli-g 值
func (r FullScaleRange) MilliG() int {
	switch r {
	case Range2G:
		return 2000
	case Range4G:
		return 4000
	case Range8G:
		return 8000
	default:
		return 16000
	}
}

// FilterMode 数字低通滤波档位
type FilterMode int

const (
	FilterOff FilterMode = iota
	Filter188Hz
	Filter98Hz
	Filter42Hz
	Filter20Hz
	Filter10Hz
	Filter5Hz
)

// Edge 中断触发沿
type Edge int

const (
	EdgeFalling Edge = iota
	EdgeRising
)

// 中断状态位
const (
	IntDataReady    uint8 = 0x01
	IntFIFOOverflow uint8 = 0x10
)

// SensorDevice 传感器能力
type SensorDevice interface {
	Init() error
	TestConnection() bool
	Configure(rate SampleRate, fsr FullScaleRange, filter FilterMode) error
	EnableFIFO(overflowInterrupt bool) error
	InterruptStatus() (uint8, error)
	FIFOByteCount() (int, error)
	ReadFIFO(p []byte) (int, error)
}

// ReadyNotifier FIFO 就绪通知
// 中断处理程序只能调用 NotifyReady，不能做任何设备 I/O
type ReadyNotifier interface {
	NotifyReady()
}

// InterruptLine 硬件中断线
type InterruptLine interface {
	Arm(edge Edge, n ReadyNotifier) error
	Disarm() error
}
