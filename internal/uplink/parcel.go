// Package uplink 状态推送和遥测上传的出站实现
package uplink

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/overwasher/sensor-node/internal/flash"
)

// 遥测包头
const (
	ParcelMagic   uint32 = 0x4c54574f
	ParcelVersion uint32 = 2
	HeaderSize           = 28

	// 标称 100Hz，但每 170 个值丢失一个
	RateNumerator   uint32 = 1690
	RateDenominator uint32 = 17
)

// Uplink 出站能力，HTTP / MQTT / redis 三种实现
type Uplink interface {
	SendStatus(ctx context.Context, active bool) error
	SendTelemetry(ctx context.Context, view flash.View, capacity, head, tail int) error
}

// StatusDocument 状态文档
type StatusDocument struct {
	State string `json:"state"`
}

// NewStatusDocument 构造状态文档
func NewStatusDocument(active bool) StatusDocument {
	if active {
		return StatusDocument{State: "active"}
	}
	return StatusDocument{State: "inactive"}
}

// Header 遥测包头，小端紧凑排列
type Header struct {
	Magic           uint32
	Version         uint32
	LocalTimestamp  uint32 // 节点启动以来的微秒数（截断为 32 位）
	RealTimestamp   uint64 // 墙上时间，Unix 微秒
	RateNumerator   uint32
	RateDenominator uint32
}

// Clock 包头时间来源
type Clock struct {
	Boot time.Time
	Now  func() time.Time
}

// NewHeader 以当前时间填充包头
func (c Clock) NewHeader() Header {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	t := now()
	return Header{
		Magic:           ParcelMagic,
		Version:         ParcelVersion,
		LocalTimestamp:  uint32(t.Sub(c.Boot).Microseconds()),
		RealTimestamp:   uint64(t.UnixMicro()),
		RateNumerator:   RateNumerator,
		RateDenominator: RateDenominator,
	}
}

// MarshalBinary 编码为 28 字节
func (h Header) MarshalBinary() ([]byte, error) {
	p := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(p[0:], h.Magic)
	binary.LittleEndian.PutUint32(p[4:], h.Version)
	binary.LittleEndian.PutUint32(p[8:], h.LocalTimestamp)
	binary.LittleEndian.PutUint64(p[12:], h.RealTimestamp)
	binary.LittleEndian.PutUint32(p[20:], h.RateNumerator)
	binary.LittleEndian.PutUint32(p[24:], h.RateDenominator)
	return p, nil
}

// UnmarshalBinary 解码包头
func (h *Header) UnmarshalBinary(p []byte) error {
	if len(p) < HeaderSize {
		return fmt.Errorf("parcel header needs %d bytes, got %d", HeaderSize, len(p))
	}
	h.Magic = binary.LittleEndian.Uint32(p[0:])
	h.Version = binary.LittleEndian.Uint32(p[4:])
	h.LocalTimestamp = binary.LittleEndian.Uint32(p[8:])
	h.RealTimestamp = binary.LittleEndian.Uint64(p[12:])
	h.RateNumerator = binary.LittleEndian.Uint32(p[20:])
	h.RateDenominator = binary.LittleEndian.Uint32(p[24:])
	if h.Magic != ParcelMagic {
		return fmt.Errorf("bad parcel magic %#x", h.Magic)
	}
	return nil
}

// BuildParcel 包头加上环形范围 [head, tail) 的全部字节
// 数据长度恰为 (tail - head + capacity) % capacity
func BuildParcel(view flash.View, capacity, head, tail int, hdr Header) ([]byte, error) {
	if capacity != view.Size() {
		return nil, fmt.Errorf("capacity %d does not match region size %d", capacity, view.Size())
	}
	if head < 0 || head >= capacity || tail < 0 || tail >= capacity {
		return nil, fmt.Errorf("cursors head=%d tail=%d outside region of %d bytes", head, tail, capacity)
	}

	header, err := hdr.MarshalBinary()
	if err != nil {
		return nil, err
	}

	size := (tail - head + capacity) % capacity
	parcel := make([]byte, 0, HeaderSize+size)
	parcel = append(parcel, header...)
	for _, span := range flash.Split(head, tail, capacity) {
		p, err := view.ReadSpan(span)
		if err != nil {
			return nil, err
		}
		parcel = append(parcel, p...)
	}
	return parcel, nil
}
