package als

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Hourly maps the time of day to a fixed lux value, for machines without a
// sensor. The value in effect is the one for the latest configured hour at
// or before now, wrapping to the previous day's last entry.
type Hourly struct {
	hours []int
	lux   map[int]float64
	now   func() time.Time
}

// NewHourly builds the table from config keys "0".."23".
func NewHourly(table map[string]float64) (*Hourly, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("hour_to_lux table is empty")
	}

	h := &Hourly{lux: make(map[int]float64, len(table)), now: time.Now}
	for k, v := range table {
		hour, err := strconv.Atoi(k)
		if err != nil || hour < 0 || hour > 23 {
			return nil, fmt.Errorf("invalid hour %q in hour_to_lux (want 0-23)", k)
		}
		if v < 0 {
			return nil, fmt.Errorf("negative lux %v for hour %d", v, hour)
		}
		h.lux[hour] = v
		h.hours = append(h.hours, hour)
	}
	sort.Ints(h.hours)
	return h, nil
}

func (h *Hourly) Lux(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return h.At(h.now()), nil
}

// At returns the value in effect at t.
func (h *Hourly) At(t time.Time) float64 {
	hour := t.Hour()
	i := sort.SearchInts(h.hours, hour+1) - 1
	if i < 0 {
		i = len(h.hours) - 1
	}
	return h.lux[h.hours[i]]
}
