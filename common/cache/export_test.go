package cache

import "time"

func (m *Memory) SetClock(now func() time.Time) {
	m.now = now
}
