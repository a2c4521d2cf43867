package device

// Debouncer confirms a raw pin level only after threshold consecutive reads of the new level.
// Fell and Rose are valid for the poll cycle of the last Update only.
type Debouncer struct {
	value     bool
	count     int
	threshold int
	fell      bool
	rose      bool
}

// NewDebouncer returns a Debouncer starting at level initial. A threshold below 1 is treated as 1.
func NewDebouncer(threshold int, initial bool) *Debouncer {
	if threshold < 1 {
		threshold = 1
	}
	return &Debouncer{value: initial, threshold: threshold}
}

// Update feeds one raw read
func (d *Debouncer) Update(raw bool) {
	d.fell, d.rose = false, false
	if raw == d.value {
		d.count = 0
		return
	}
	d.count++
	if d.count < d.threshold {
		return
	}
	d.count = 0
	d.value = raw
	if raw {
		d.rose = true
	} else {
		d.fell = true
	}
}

func (d *Debouncer) Value() bool { return d.value }
func (d *Debouncer) Fell() bool  { return d.fell }
func (d *Debouncer) Rose() bool  { return d.rose }
