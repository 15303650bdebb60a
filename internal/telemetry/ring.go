package telemetry

import "sync/atomic"

// Ring 环形区域的读写游标
// tail 只由 Append 写，head 只由 flush 写；两端通过原子操作互相可见
type Ring struct {
	capacity  int
	alignment int
	head      atomic.Int64
	tail      atomic.Int64
}

// NewRing 创建空的游标对
func NewRing(capacity, alignment int) *Ring {
	return &Ring{capacity: capacity, alignment: alignment}
}

// Head 最旧的未发送偏移
func (r *Ring) Head() int { return int(r.head.Load()) }

// Tail 下一次写入偏移
func (r *Ring) Tail() int { return int(r.tail.Load()) }

// Capacity 区域容量 C
func (r *Ring) Capacity() int { return r.capacity }

// Alignment 槽位大小 A
func (r *Ring) Alignment() int { return r.alignment }

// Occupied 已占用字节
func (r *Ring) Occupied() int {
	return r.occupied(r.Head(), r.Tail())
}

// OccupiedBuffers 已占用槽位
func (r *Ring) OccupiedBuffers() int {
	return r.Occupied() / r.alignment
}

// CapacityBuffers 槽位总数
func (r *Ring) CapacityBuffers() int {
	return r.capacity / r.alignment
}

// Full 再写一个槽位就会与 head 重合
func (r *Ring) Full() bool {
	return r.next(r.Tail()) == r.Head()
}

func (r *Ring) occupied(head, tail int) int {
	return (tail - head + r.capacity) % r.capacity
}

func (r *Ring) next(off int) int {
	return (off + r.alignment) % r.capacity
}

func (r *Ring) advanceTail() int {
	t := r.next(r.Tail())
	r.tail.Store(int64(t))
	return t
}

func (r *Ring) storeHead(h int) {
	r.head.Store(int64(h))
}
