// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stats

// Integrator accumulates the time-weighted integral of a level that
// changes at irregular instants. Times are in nanoseconds.
type Integrator struct {
	started bool
	start   uint64
	last    uint64
	level   float64
	area    float64
	busy    uint64 // time spent with level > 0
}

// Set changes the level at time now.
func (g *Integrator) Set(now uint64, level float64) {
	g.advance(now)
	g.level = level
}

// Level returns the current level.
func (g *Integrator) Level() float64 {
	return g.level
}

func (g *Integrator) advance(now uint64) {
	if !g.started {
		g.started = true
		g.start, g.last = now, now
		return
	}
	if now <= g.last {
		return
	}
	dt := now - g.last
	g.area += float64(dt) * g.level
	if g.level > 0 {
		g.busy += dt
	}
	g.last = now
}

// Average returns the mean level between the first Set and now.
func (g *Integrator) Average(now uint64) float64 {
	area, elapsed, _ := g.at(now)
	if elapsed == 0 {
		return 0
	}
	return area / float64(elapsed)
}

// Busy returns the fraction of time between the first Set and now that
// the level was above zero.
func (g *Integrator) Busy(now uint64) float64 {
	_, elapsed, busy := g.at(now)
	if elapsed == 0 {
		return 0
	}
	return float64(busy) / float64(elapsed)
}

func (g *Integrator) at(now uint64) (area float64, elapsed, busy uint64) {
	if !g.started {
		return 0, 0, 0
	}
	area, busy = g.area, g.busy
	if now > g.last {
		dt := now - g.last
		area += float64(dt) * g.level
		if g.level > 0 {
			busy += dt
		}
	} else {
		now = g.last
	}
	return area, now - g.start, busy
}

// Depth is a non-negative counter, such as the number of requests
// outstanding at a queue, with its maximum and time-weighted average.
type Depth struct {
	cur, max uint64
	floored  uint64
	avg      Integrator
}

// Inc raises the depth by one at time now.
func (d *Depth) Inc(now uint64) {
	d.cur++
	d.max = max(d.max, d.cur)
	d.avg.Set(now, float64(d.cur))
}

// Dec lowers the depth by one at time now. A decrement at zero is
// counted and otherwise ignored.
func (d *Depth) Dec(now uint64) {
	if d.cur == 0 {
		d.floored++
		d.avg.Set(now, 0)
		return
	}
	d.cur--
	d.avg.Set(now, float64(d.cur))
}

// Value returns the current depth.
func (d *Depth) Value() uint64 { return d.cur }

// Max returns the largest depth seen.
func (d *Depth) Max() uint64 { return d.max }

// Floored returns the number of decrements ignored at zero.
func (d *Depth) Floored() uint64 { return d.floored }

// Average returns the time-weighted mean depth up to now.
func (d *Depth) Average(now uint64) float64 { return d.avg.Average(now) }

// Busy returns the fraction of time up to now the depth was non-zero.
func (d *Depth) Busy(now uint64) float64 { return d.avg.Busy(now) }
