//go:build !opencl

package compute

import (
	"errors"

	"trafficsim/internal/road"
)

type OpenCLDevice struct{}

func NewOpenCLDevice(net road.Network, capacity int) (*OpenCLDevice, error) {
	return nil, errors.New("OpenCL support is not enabled; rebuild with -tags opencl")
}

func (d *OpenCLDevice) Run(in, out []road.Body, dt float32) error {
	return errors.New("OpenCL device unavailable")
}

func (d *OpenCLDevice) Close() error { return nil }

func (d *OpenCLDevice) Name() string { return "opencl" }
