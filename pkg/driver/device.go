package driver

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the standard baud rate of the MCU's USB-CDC port.
	DefaultBaudRate = 115200
	// DefaultPollTimeout bounds a single conversion.
	DefaultPollTimeout = 20 * time.Millisecond
	// DefaultInitTimeout bounds the ADC init handshake.
	DefaultInitTimeout = time.Second

	// readTimeout is the granularity of blocking reads on the port.
	readTimeout = 2 * time.Millisecond
	// maxLineLength discards runaway input without a newline.
	maxLineLength = 64
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial talks to the converter MCU over a line protocol:
//
//	I        -> OK | ERR,<msg>   init ADC
//	S        -> V,<0..4095>      start conversion, reply on completion
//	X                            stop conversion
//	D,<0..1000>                  set PWM duty in permille
type Serial struct {
	port        string
	baudRate    int
	pollTimeout time.Duration
	initTimeout time.Duration

	mu    sync.Mutex
	conn  io.ReadWriteCloser
	reset func() error // drops stale input, nil when unsupported
	now   func() time.Time

	line   []byte
	rbuf   [32]byte
	value  RawSample
	inited bool
}

// New creates a new Serial driver for the specified port.
func New(port string, baudRate int, pollTimeout time.Duration) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}

	return &Serial{
		port:        port,
		baudRate:    baudRate,
		pollTimeout: pollTimeout,
		initTimeout: DefaultInitTimeout,
		now:         time.Now,
		line:        make([]byte, 0, maxLineLength),
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{
			Name:        name,
			Description: name,
		})
	}

	return result, nil
}

// Connect opens the serial port.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		return ErrAlreadyConnected
	}

	port, err := serial.Open(d.port, &serial.Mode{
		BaudRate: d.baudRate,
	})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout on %s: %w", d.port, err)
	}

	d.attach(port, port.ResetInputBuffer)
	return nil
}

// attach binds an open stream to the driver. Callers hold d.mu.
func (d *Serial) attach(conn io.ReadWriteCloser, reset func() error) {
	d.conn = conn
	d.reset = reset
	d.line = d.line[:0]
	d.inited = false
}

// Close closes the port.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil
	}

	err := d.conn.Close()
	d.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close serial port %s: %w", d.port, err)
	}
	return nil
}

// IsConnected returns whether the port is open.
func (d *Serial) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn != nil
}

// Init configures the MCU's ADC and waits for its acknowledgement.
func (d *Serial) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.send("init", "I\n"); err != nil {
		return err
	}

	deadline := d.now().Add(d.initTimeout)
	for {
		line, err := d.readLine(deadline)
		if err != nil {
			if err == ErrConversionTimeout {
				err = ErrTimeout
			}
			return Wrap("init", err)
		}
		switch {
		case line == "OK":
			d.inited = true
			return nil
		case strings.HasPrefix(line, "ERR"):
			return &DriverError{Op: "init", Err: fmt.Errorf("device rejected init: %s", line)}
		}
	}
}

// StartConversion asks the MCU for a new ADC conversion.
func (d *Serial) StartConversion() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.inited {
		return &DriverError{Op: "start", Err: ErrNotInitialized}
	}

	// A reply from an abandoned conversion must not satisfy this one.
	d.line = d.line[:0]
	if d.reset != nil {
		if err := d.reset(); err != nil {
			return Wrap("start", err)
		}
	}
	return d.send("start", "S\n")
}

// PollUntilReady waits up to the poll timeout for the conversion result.
func (d *Serial) PollUntilReady() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	deadline := d.now().Add(d.pollTimeout)
	for {
		line, err := d.readLine(deadline)
		if err != nil {
			return Wrap("poll", err)
		}
		if strings.HasPrefix(line, "ERR") {
			return &DriverError{Op: "poll", Err: fmt.Errorf("device error: %s", line)}
		}
		value, ok, err := parseValue(line)
		if err != nil {
			return Wrap("poll", err)
		}
		if !ok {
			continue
		}
		d.value = value
		return nil
	}
}

// ReadValue returns the last completed conversion.
func (d *Serial) ReadValue() RawSample {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value
}

// Stop ends the current conversion.
func (d *Serial) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.send("stop", "X\n")
}

// SetDutyCycle sends the duty cycle to the MCU with permille resolution.
func (d *Serial) SetDutyCycle(value float32) error {
	if !(value >= 0 && value <= 1) {
		return &DriverError{Op: "pwm", Err: fmt.Errorf("duty cycle %g out of [0, 1]", value)}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	permille := int(math.Round(float64(value) * 1000))
	return d.send("pwm", "D,"+strconv.Itoa(permille)+"\n")
}

// send writes a command line. Callers hold d.mu.
func (d *Serial) send(op, cmd string) error {
	if d.conn == nil {
		return &DriverError{Op: op, Err: ErrNotConnected}
	}
	if _, err := io.WriteString(d.conn, cmd); err != nil {
		return &DriverError{Op: op, Err: fmt.Errorf("failed to send command: %w", err)}
	}
	return nil
}

// readLine returns the next non-empty line received before deadline.
// Callers hold d.mu.
func (d *Serial) readLine(deadline time.Time) (string, error) {
	if d.conn == nil {
		return "", ErrNotConnected
	}

	for {
		if i := bytes.IndexByte(d.line, '\n'); i >= 0 {
			line := strings.TrimSpace(string(d.line[:i]))
			d.line = append(d.line[:0], d.line[i+1:]...)
			if line == "" {
				continue
			}
			return line, nil
		}

		if !d.now().Before(deadline) {
			return "", ErrConversionTimeout
		}

		n, err := d.conn.Read(d.rbuf[:])
		if n > 0 {
			if len(d.line)+n > maxLineLength {
				d.line = d.line[:0]
			}
			d.line = append(d.line, d.rbuf[:n]...)
		}
		if err != nil {
			return "", err
		}
	}
}

// parseValue parses a conversion reply.
// Format: V,<reading>
// Example: V,2048
// Lines that are not conversion replies return ok == false.
func parseValue(line string) (RawSample, bool, error) {
	tag, payload, found := strings.Cut(line, ",")
	if !found || tag != "V" {
		return 0, false, nil
	}

	reading, err := strconv.ParseUint(payload, 10, 16)
	if err != nil {
		return 0, false, fmt.Errorf("invalid reading: %w", err)
	}
	if reading > uint64(MaxRawSample) {
		return 0, false, fmt.Errorf("reading out of range: %d (max %d)", reading, MaxRawSample)
	}

	return RawSample(reading), true, nil
}
