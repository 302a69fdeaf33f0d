package controller

import "time"

// Status is a point-in-time view of a controller for the health endpoint.
type Status struct {
	Device      string    `json:"device"`
	Kind        string    `json:"kind"`
	Min         int       `json:"min"`
	Max         int       `json:"max"`
	State       string    `json:"state"`
	Action      string    `json:"action,omitempty"`
	Key         string    `json:"key,omitempty"`
	Lux         float64   `json:"lux"`
	Luma        float64   `json:"luma,omitempty"`
	Raw         int       `json:"raw"`
	LastApplied int       `json:"last_applied"`
	Predicted   int       `json:"predicted"`
	Entries     int       `json:"entries"`
	Corrections int       `json:"corrections"`
	Applies     int       `json:"applies"`
	Errors      int       `json:"errors"`
	LastError   string    `json:"last_error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Status returns a copy of the latest status. Safe for concurrent use.
func (c *Controller) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

func (c *Controller) updateStatus(fn func(*Status)) {
	c.statusMu.Lock()
	fn(&c.status)
	c.status.UpdatedAt = time.Now()
	c.statusMu.Unlock()
}

func (c *Controller) setState(s State) {
	c.updateStatus(func(st *Status) { st.State = s.String() })
}

func (c *Controller) recordError(err error) {
	c.updateStatus(func(s *Status) {
		s.Errors++
		s.LastError = err.Error()
	})
}
