//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"machine"
	"time"
)

var (
	adc  machine.ADC
	uart = machine.UART0

	pwmChannel uint8
	pwmTop     uint32
	pwmEnabled bool

	adcReady bool

	// Link watchdog
	lastDuty time.Time
	parked   bool

	// Serial buffer for reading lines
	serialBuffer [COMMAND_BUFFER_LEN]byte
	serialPos    int
)

func main() {
	PIN_ADC.Configure(machine.PinConfig{Mode: machine.PinInput})
	adc = machine.ADC{Pin: PIN_ADC}

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	configurePWM()
	lastDuty = time.Now()

	for {
		processSerial()

		// Park the output when the host stops commanding it
		if pwmEnabled && !parked && time.Since(lastDuty) > LINK_TIMEOUT_MS*time.Millisecond {
			setDuty(PWM_SAFE_PERMILLE)
			parked = true
		}

		time.Sleep(100 * time.Microsecond)
	}
}

func configurePWM() {
	if err := pwmPeripheral.Configure(machine.PWMConfig{Period: PWM_PERIOD_NS}); err != nil {
		return
	}
	ch, err := pwmPeripheral.Channel(PIN_PWM)
	if err != nil {
		return
	}
	pwmChannel = ch
	pwmTop = pwmPeripheral.Top()
	pwmEnabled = true
	setDuty(PWM_SAFE_PERMILLE)
}

func setDuty(permille uint32) {
	if !pwmEnabled {
		return
	}
	if permille > MAX_DUTY_PERMILLE {
		permille = MAX_DUTY_PERMILLE
	}
	pwmPeripheral.Set(pwmChannel, pwmTop*permille/MAX_DUTY_PERMILLE)
}

func processSerial() {
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}

		if data == '\n' || data == '\r' {
			if serialPos > 0 {
				handleCommand(serialBuffer[:serialPos])
			}
			serialPos = 0
			continue
		}

		if data == ' ' || data == '\t' {
			continue
		}

		if serialPos < len(serialBuffer) {
			serialBuffer[serialPos] = data
			serialPos++
		} else {
			// Overlong line, drop it
			serialPos = 0
		}
	}
}

// handleCommand executes one command line:
//
//	I          init ADC, reply OK
//	S          sample once, reply V,<0..4095>
//	X          stop conversion
//	D,<0..1000> set PWM duty in permille
//
// Unknown commands are ignored.
func handleCommand(cmd []byte) {
	switch cmd[0] {
	case 'I':
		adc.Configure(machine.ADCConfig{
			Reference:  ADC_REFERENCE_MV,
			Resolution: ADC_RESOLUTION,
		})
		adcReady = true
		print("OK\n")
	case 'S':
		if !adcReady {
			print("ERR,not initialized\n")
			return
		}
		// machine.ADC returns 16-bit left-aligned values
		value := adc.Get() >> (16 - ADC_RESOLUTION)
		print("V,")
		print(value)
		print("\n")
	case 'X':
		// Conversions complete synchronously, nothing to cancel
	case 'D':
		permille, ok := parsePermille(cmd)
		if !ok {
			return
		}
		setDuty(permille)
		lastDuty = time.Now()
		parked = false
	}
}

// parsePermille parses "D,<digits>".
func parsePermille(cmd []byte) (uint32, bool) {
	if len(cmd) < 3 || cmd[1] != ',' {
		return 0, false
	}
	var v uint32
	for _, c := range cmd[2:] {
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + uint32(c-'0')
		if v > MAX_DUTY_PERMILLE {
			return 0, false
		}
	}
	return v, true
}
