package serial

import "sync/atomic"

// Metrics contains atomic counters for a Transport.
// They can be used as the value of a prometheus CounterFunc or GaugeFunc.
type Metrics struct {
	// FrameSendCount is the number of frames written to the port.
	FrameSendCount atomic.Uint64
	// FrameRecvCount is the number of well-formed frames read from the port.
	FrameRecvCount atomic.Uint64
	// DeviceTextCount is the number of unframed lines read from the port.
	DeviceTextCount atomic.Uint64
	// WriteErrCount is the number of failed frame writes.
	WriteErrCount atomic.Uint64
	// MalformedCount is the number of dropped inbound lines (bad frame or too long).
	MalformedCount atomic.Uint64
}

func (m *Metrics) incFrameSendCount()  { m.FrameSendCount.Add(1) }
func (m *Metrics) incFrameRecvCount()  { m.FrameRecvCount.Add(1) }
func (m *Metrics) incDeviceTextCount() { m.DeviceTextCount.Add(1) }
func (m *Metrics) incWriteErrCount()   { m.WriteErrCount.Add(1) }
func (m *Metrics) incMalformedCount()  { m.MalformedCount.Add(1) }
