package state

// Decision is the outcome of one debouncer update.
type Decision struct {
	Rise    bool
	Recover bool
}

// Debouncer requires target consecutive over-threshold samples before it
// offers a rising alert. Once armed, every under-threshold sample offers a
// recovery until Disarm is called.
type Debouncer struct {
	target int
	count  int
	active bool
}

// NewDebouncer builds a debouncer for one quantity.
func NewDebouncer(target int) *Debouncer {
	if target < 1 {
		target = 1
	}
	return &Debouncer{target: target}
}

// Update records one sample. A Rise keeps being offered on every further
// over-threshold sample until Arm is called, so a rise held back by a
// cooldown is emitted later in the same run rather than lost.
func (d *Debouncer) Update(over bool) Decision {
	if !over {
		d.count = 0
		return Decision{Recover: d.active}
	}

	d.count++
	if d.count >= d.target && !d.active {
		return Decision{Rise: true}
	}
	return Decision{}
}

// Arm marks the rising alert as emitted.
func (d *Debouncer) Arm() { d.active = true }

// Disarm marks the recovery as emitted. A recovery held back by a cooldown
// stays pending, so the rise it pairs with is always closed.
func (d *Debouncer) Disarm() { d.active = false }

// Count returns the consecutive over-threshold count.
func (d *Debouncer) Count() int { return d.count }

// Active reports whether a rising alert is in force.
func (d *Debouncer) Active() bool { return d.active }

// Target returns the persistence requirement.
func (d *Debouncer) Target() int { return d.target }
