//go:build opencl

package compute

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"github.com/jgillich/go-opencl/cl"

	"trafficsim/internal/road"
)

var (
	bodySize   = int(unsafe.Sizeof(road.Body{}))
	paramsSize = int(unsafe.Sizeof(road.RouteParams{}))
)

// OpenCLDevice runs step_bodies with one work item per car. The route
// parameters are uploaded once; bodies go up and come back every tick.
type OpenCLDevice struct {
	context    *cl.Context
	queue      *cl.CommandQueue
	program    *cl.Program
	kernel     *cl.Kernel
	paramsBuf  *cl.MemObject
	inBuf      *cl.MemObject
	outBuf     *cl.MemObject
	capacity   int
	deviceName string
}

// NewOpenCLDevice picks the first GPU, or failing that the first CPU device,
// and sizes the body buffers for capacity cars.
func NewOpenCLDevice(net road.Network, capacity int) (*OpenCLDevice, error) {
	if capacity < 1 {
		capacity = 1
	}
	platforms, err := cl.GetPlatforms()
	if err != nil {
		msg := "querying OpenCL platforms"
		if strings.Contains(err.Error(), "-1001") {
			msg += ": no ICD loader reported any platforms; install OpenCL drivers and verify with `clinfo`"
		}
		return nil, fmt.Errorf("%s: %w", msg, err)
	}
	if len(platforms) == 0 {
		return nil, errors.New("no OpenCL platforms available; ensure a vendor driver is installed and detected by `clinfo`")
	}
	device := findDevice(platforms, cl.DeviceTypeGPU)
	if device == nil {
		device = findDevice(platforms, cl.DeviceTypeCPU)
	}
	if device == nil {
		return nil, errors.New("no suitable OpenCL devices found")
	}

	context, err := cl.CreateContext([]*cl.Device{device})
	if err != nil {
		return nil, fmt.Errorf("creating OpenCL context: %w", err)
	}
	d := &OpenCLDevice{context: context, deviceName: device.Name()}

	d.queue, err = context.CreateCommandQueue(device, 0)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("creating OpenCL command queue: %w", err)
	}
	d.program, err = context.CreateProgramWithSource([]string{bodyKernelSource})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("creating OpenCL program: %w", err)
	}
	if err := d.program.BuildProgram([]*cl.Device{device}, ""); err != nil {
		d.Close()
		if buildErr, ok := err.(cl.BuildError); ok {
			return nil, fmt.Errorf("building OpenCL program: %s", string(buildErr))
		}
		return nil, fmt.Errorf("building OpenCL program: %w", err)
	}
	d.kernel, err = d.program.CreateKernel("step_bodies")
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("creating OpenCL kernel: %w", err)
	}
	d.paramsBuf, err = context.CreateEmptyBuffer(cl.MemReadOnly, paramsSize)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("allocating params buffer: %w", err)
	}
	if err := d.allocate(capacity); err != nil {
		d.Close()
		return nil, err
	}

	params := *net.Params()
	if _, err := d.queue.EnqueueWriteBuffer(d.paramsBuf, true, 0, paramsSize, unsafe.Pointer(&params), nil); err != nil {
		d.Close()
		return nil, fmt.Errorf("writing params buffer: %w", err)
	}
	if err := d.kernel.SetArgs(
		int32(0),
		float32(0),
		d.paramsBuf,
		d.inBuf,
		d.outBuf,
	); err != nil {
		d.Close()
		return nil, fmt.Errorf("setting kernel arguments: %w", err)
	}
	diagf("OpenCL device %s ready for %d bodies", d.deviceName, capacity)
	return d, nil
}

func findDevice(platforms []*cl.Platform, kind cl.DeviceType) *cl.Device {
	for _, p := range platforms {
		devices, err := p.GetDevices(kind)
		if err != nil && err != cl.ErrDeviceNotFound {
			continue
		}
		if len(devices) > 0 {
			return devices[0]
		}
	}
	return nil
}

// allocate replaces the body buffers with ones holding n bodies.
func (d *OpenCLDevice) allocate(n int) error {
	d.releaseBodies()
	var err error
	d.inBuf, err = d.context.CreateEmptyBuffer(cl.MemReadOnly, n*bodySize)
	if err != nil {
		return fmt.Errorf("allocating input buffer: %w", err)
	}
	d.outBuf, err = d.context.CreateEmptyBuffer(cl.MemWriteOnly, n*bodySize)
	if err != nil {
		return fmt.Errorf("allocating output buffer: %w", err)
	}
	d.capacity = n
	return nil
}

func (d *OpenCLDevice) grow(n int) error {
	if err := d.allocate(n); err != nil {
		return err
	}
	if err := d.kernel.SetArgBuffer(3, d.inBuf); err != nil {
		return fmt.Errorf("binding input buffer: %w", err)
	}
	if err := d.kernel.SetArgBuffer(4, d.outBuf); err != nil {
		return fmt.Errorf("binding output buffer: %w", err)
	}
	diagf("OpenCL body buffers grown to %d", n)
	return nil
}

func (d *OpenCLDevice) Run(in, out []road.Body, dt float32) error {
	n := len(in)
	if n == 0 {
		return nil
	}
	if len(out) < n {
		return fmt.Errorf("output holds %d bodies, need %d", len(out), n)
	}
	if n > d.capacity {
		if err := d.grow(n); err != nil {
			return err
		}
	}
	byteLen := n * bodySize
	if _, err := d.queue.EnqueueWriteBuffer(d.inBuf, false, 0, byteLen, unsafe.Pointer(&in[0]), nil); err != nil {
		return fmt.Errorf("writing body buffer: %w", err)
	}
	if err := d.kernel.SetArgInt32(0, int32(n)); err != nil {
		return fmt.Errorf("setting body count: %w", err)
	}
	if err := d.kernel.SetArgFloat32(1, dt); err != nil {
		return fmt.Errorf("setting dt: %w", err)
	}
	if _, err := d.queue.EnqueueNDRangeKernel(d.kernel, nil, []int{n}, nil, nil); err != nil {
		return fmt.Errorf("enqueueing kernel: %w", err)
	}
	if _, err := d.queue.EnqueueReadBuffer(d.outBuf, true, 0, byteLen, unsafe.Pointer(&out[0]), nil); err != nil {
		return fmt.Errorf("reading body buffer: %w", err)
	}
	tracef("%s: stepped %d bodies", d.deviceName, n)
	return nil
}

func (d *OpenCLDevice) releaseBodies() {
	if d.outBuf != nil {
		d.outBuf.Release()
		d.outBuf = nil
	}
	if d.inBuf != nil {
		d.inBuf.Release()
		d.inBuf = nil
	}
}

func (d *OpenCLDevice) Close() error {
	d.releaseBodies()
	if d.paramsBuf != nil {
		d.paramsBuf.Release()
		d.paramsBuf = nil
	}
	if d.kernel != nil {
		d.kernel.Release()
		d.kernel = nil
	}
	if d.program != nil {
		d.program.Release()
		d.program = nil
	}
	if d.queue != nil {
		d.queue.Release()
		d.queue = nil
	}
	if d.context != nil {
		d.context.Release()
		d.context = nil
	}
	return nil
}

func (d *OpenCLDevice) Name() string {
	return "opencl(" + d.deviceName + ")"
}
