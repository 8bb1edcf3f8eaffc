package glow

// InstructionMeter bounds the number of instructions one path may execute in
// a single tick. A path that loops on Goto without pausing would otherwise
// never return control to the scheduler.
type InstructionMeter struct {
	remaining uint64
	consumed  uint64
	limit     uint64
	disabled  bool
}

// NewInstructionMeter creates a meter with the given limit. A zero limit
// disables metering.
func NewInstructionMeter(limit uint64) *InstructionMeter {
	return &InstructionMeter{
		remaining: limit,
		limit:     limit,
		disabled:  limit == 0,
	}
}

// Consume charges n instructions.
// Returns ErrBudgetExceeded if fewer than n remain.
func (m *InstructionMeter) Consume(n uint64) error {
	if m.disabled {
		m.consumed += n
		return nil
	}
	if m.remaining < n {
		m.consumed += m.remaining
		m.remaining = 0
		return ErrBudgetExceeded
	}
	m.remaining -= n
	m.consumed += n
	return nil
}

// Reset restores the full budget.
func (m *InstructionMeter) Reset() {
	m.remaining = m.limit
	m.consumed = 0
}

// Remaining returns the instructions left in this budget.
func (m *InstructionMeter) Remaining() uint64 {
	return m.remaining
}

// Consumed returns the instructions charged since the last Reset.
func (m *InstructionMeter) Consumed() uint64 {
	return m.consumed
}

// Limit returns the budget size, 0 when disabled.
func (m *InstructionMeter) Limit() uint64 {
	return m.limit
}
