package activity

// Window 固定容量的布尔滑动窗口，维护 true 的计数
// 任何时刻 Count() 等于窗口中 true 的个数
type Window struct {
	entries []bool
	start   int
	size    int
	count   int
}

// NewWindow 创建容量为 capacity 的窗口
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{entries: make([]bool, capacity)}
}

// Push 追加一个值，窗口已满时淘汰最旧的值
func (w *Window) Push(v bool) {
	if w.size == len(w.entries) {
		if w.entries[w.start] {
			w.count--
		}
		w.entries[w.start] = v
		w.start = (w.start + 1) % len(w.entries)
	} else {
		w.entries[(w.start+w.size)%len(w.entries)] = v
		w.size++
	}
	if v {
		w.count++
	}
}

// Count 窗口中 true 的个数
func (w *Window) Count() int { return w.count }

// Len 当前窗口长度
func (w *Window) Len() int { return w.size }

// Cap 窗口容量 W
func (w *Window) Cap() int { return len(w.entries) }

// Primed 窗口是否已填满
func (w *Window) Primed() bool { return w.size == len(w.entries) }

// Values 从旧到新的窗口内容
func (w *Window) Values() []bool {
	out := make([]bool, w.size)
	for i := range out {
		out[i] = w.entries[(w.start+i)%len(w.entries)]
	}
	return out
}
