package engine

import (
	"errors"

	"synthstream/internal/pkg/synthstream/audio"
)

// ErrInvalidHandle is returned by device primitives for a handle they do
// not own.
var ErrInvalidHandle = errors.New("invalid device handle")

// DeviceHandle identifies an open output device.
type DeviceHandle uintptr

// Header flags.
const (
	HeaderDone     uint32 = 0x1
	HeaderPrepared uint32 = 0x2
)

// WaveHeader is one buffer submitted to an output device.
type WaveHeader struct {
	Data  []byte
	Flags uint32
}

// DeviceMessage is a notification sent back to the device's opener.
type DeviceMessage int

const (
	DeviceOpened DeviceMessage = iota
	DeviceDone
	DeviceClosed
)

// DeviceNotify receives device notifications. hdr is only set for
// DeviceDone.
type DeviceNotify func(msg DeviceMessage, hdr *WaveHeader)

// Device is the set of output primitives an intercept engine drives.
type Device interface {
	Open(deviceID int, f audio.Format, notify DeviceNotify) (DeviceHandle, error)
	Prepare(h DeviceHandle, hdr *WaveHeader) error
	Write(h DeviceHandle, hdr *WaveHeader) error
	Unprepare(h DeviceHandle, hdr *WaveHeader) error
	Reset(h DeviceHandle) error
	Close(h DeviceHandle) error
}

// Installer redirects an engine's device primitives to hooks. Install
// returns the primitives that were in place, for pass-through.
type Installer interface {
	Install(hooks Device) (original Device, err error)
	Uninstall() error
}
