// Package irq models the inter-core interrupt lines shared by the two
// execution domains. Lines carry no data; a raise is a doorbell.
package irq

import (
	"errors"
	"strconv"

	"gosuda.org/amplink/internal/rtos"
)

// Line is an interrupt line number
type Line int

// Lines used by the transport and the sampler
const (
	LineTxVring    Line = 2  // General-purpose domain released a TX buffer or is ready
	LineRxVring    Line = 3  // General-purpose domain placed data in the RX ring
	LineNotifyHost Line = 6  // Real-time domain published a TX frame
	LineTimer      Line = 70 // Sampling timer overflow
)

// MaxLine bounds the line numbers a controller accepts
const MaxLine Line = 127

// Error definitions for controllers
var (
	ErrBadLine    = errors.New("irq: line out of range")
	ErrRegistered = errors.New("irq: handler already registered")
	ErrClosed     = errors.New("irq: controller closed")
)

func (l Line) String() string {
	switch l {
	case LineTxVring:
		return "txvring"
	case LineRxVring:
		return "rxvring"
	case LineNotifyHost:
		return "notify"
	case LineTimer:
		return "timer"
	}
	return "irq" + strconv.Itoa(int(l))
}

// Handler services one raise of a line. It runs in interrupt context and
// must not block.
type Handler func(isr rtos.ISR)

// Controller is the interrupt controller seen by one domain
type Controller interface {
	// Register binds h to line and enables it
	Register(line Line, h Handler) error
	// Disable unbinds line and discards raises that are still pending
	Disable(line Line)
	// Raise signals line to whoever registered it
	Raise(line Line)
}

func validLine(line Line) bool {
	return line >= 0 && line <= MaxLine
}
