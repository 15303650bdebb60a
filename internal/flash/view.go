package flash

import "fmt"

// Span 区域中的一段连续范围
type Span struct {
	Off int
	Len int
}

// End 范围结束位置（不含）
func (s Span) End() int { return s.Off + s.Len }

// Split 把环形范围 [head, tail) 拆成按顺序排列的连续段
// head < tail 时为一段；否则为 [head, C) 和 [0, tail)，空段省略
func Split(head, tail, capacity int) []Span {
	if head == tail {
		return nil
	}
	if head < tail {
		return []Span{{Off: head, Len: tail - head}}
	}
	spans := make([]Span, 0, 2)
	if capacity > head {
		spans = append(spans, Span{Off: head, Len: capacity - head})
	}
	if tail > 0 {
		spans = append(spans, Span{Off: 0, Len: tail})
	}
	return spans
}

// View 区域的只读映射
type View struct {
	m Medium
}

// NewView 创建只读映射
func NewView(m Medium) View {
	return View{m: m}
}

// Size 区域容量
func (v View) Size() int { return v.m.Size() }

// ReadAt 读取区域内容
func (v View) ReadAt(p []byte, off int64) (int, error) {
	return v.m.ReadAt(p, off)
}

// ReadSpan 读取一段完整范围
func (v View) ReadSpan(s Span) ([]byte, error) {
	p := make([]byte, s.Len)
	if _, err := v.m.ReadAt(p, int64(s.Off)); err != nil {
		return nil, fmt.Errorf("failed to read span [%d, %d): %w", s.Off, s.End(), err)
	}
	return p, nil
}

// ReadRing 按顺序读取环形范围 [head, tail) 的全部字节
func (v View) ReadRing(head, tail int) ([]byte, error) {
	capacity := v.m.Size()
	out := make([]byte, 0, (tail-head+capacity)%capacity)
	for _, s := range Split(head, tail, capacity) {
		p, err := v.ReadSpan(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p...)
	}
	return out, nil
}
