// ABOUTME: Malgo-based capture of the system output or an input device
// ABOUTME: Uses miniaudio via malgo in 32-bit float stereo
package capture

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/lucalewin/sonar/pkg/audio"
)

// MalgoSource captures audio through miniaudio. Loopback records what the
// default output is playing, which miniaudio only supports on WASAPI; other
// backends fall back to the default capture device.
type MalgoSource struct {
	loopback   bool
	deviceName string
	sampleRate int

	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	mu       sync.Mutex
}

// NewMalgoSource creates a capture source. deviceName selects a capture
// device by case-insensitive substring; empty means the default device.
func NewMalgoSource(loopback bool, deviceName string, sampleRate int) *MalgoSource {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	return &MalgoSource{
		loopback:   loopback,
		deviceName: deviceName,
		sampleRate: sampleRate,
	}
}

// Start initializes the device and begins delivering batches
func (m *MalgoSource) Start(sink Sink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return fmt.Errorf("capture already started")
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	m.malgoCtx = ctx

	onSamples := func(pOutputSample, pInputSamples []byte, frameCount uint32) {
		if batch := decodeF32(pInputSamples, int(frameCount)); len(batch) > 0 {
			sink(batch)
		}
	}
	callbacks := malgo.DeviceCallbacks{Data: onSamples}

	deviceType := malgo.Capture
	if m.loopback {
		deviceType = malgo.Loopback
	}

	device, err := m.initDevice(deviceType, callbacks)
	if err != nil && m.loopback {
		log.Printf("Loopback capture unavailable (%v), falling back to default capture device", err)
		device, err = m.initDevice(malgo.Capture, callbacks)
	}
	if err != nil {
		m.freeContext()
		return err
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		m.freeContext()
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	m.device = device

	log.Printf("Audio capture initialized: %s, %dHz, %d channels, f32", m.Name(), m.sampleRate, audio.Channels)
	return nil
}

func (m *MalgoSource) initDevice(deviceType malgo.DeviceType, callbacks malgo.DeviceCallbacks) (*malgo.Device, error) {
	deviceConfig := malgo.DefaultDeviceConfig(deviceType)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = audio.Channels
	deviceConfig.SampleRate = uint32(m.sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	if m.deviceName != "" && deviceType == malgo.Capture {
		info, err := m.findDevice(m.deviceName)
		if err != nil {
			return nil, err
		}
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}
	return device, nil
}

func (m *MalgoSource) findDevice(name string) (malgo.DeviceInfo, error) {
	infos, err := m.malgoCtx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceInfo{}, fmt.Errorf("failed to list capture devices: %w", err)
	}
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), strings.ToLower(name)) {
			return info, nil
		}
	}
	return malgo.DeviceInfo{}, fmt.Errorf("capture device not found: %q", name)
}

func (m *MalgoSource) SampleRate() int { return m.sampleRate }

func (m *MalgoSource) Name() string {
	kind := "capture"
	if m.loopback {
		kind = "loopback"
	}
	if m.deviceName != "" {
		return fmt.Sprintf("%s (%s)", kind, m.deviceName)
	}
	return kind
}

// Close stops capture and releases the device
func (m *MalgoSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		m.device.Uninit()
		m.device = nil
	}
	m.freeContext()
	return nil
}

func (m *MalgoSource) freeContext() {
	if m.malgoCtx == nil {
		return
	}
	_ = m.malgoCtx.Uninit()
	m.malgoCtx.Free()
	m.malgoCtx = nil
}

// ListDevices returns the names of the available capture devices
func ListDevices() ([]string, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to list capture devices: %w", err)
	}

	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

// decodeF32 converts little-endian float32 stereo frames to a batch
func decodeF32(raw []byte, frameCount int) audio.Batch {
	samples := frameCount * audio.Channels
	if samples*4 > len(raw) {
		samples = len(raw) / 4
	}

	batch := make(audio.Batch, samples)
	for i := range batch {
		batch[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return batch
}
