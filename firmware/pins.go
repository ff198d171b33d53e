//go:build tinygo

package main

import "machine"

const (
	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // ADC resolution in bits (12-bit = 0-4095)

	// PWM configuration
	PWM_PERIOD_NS      = 50_000 // 20 kHz switching frequency
	PWM_SAFE_PERMILLE  = 50     // Duty parked on link loss, matches duty_cycle_min
	LINK_TIMEOUT_MS    = 500    // Park the output when no duty command arrives for this long
	MAX_DUTY_PERMILLE  = 1000
	COMMAND_BUFFER_LEN = 16

	// Pins
	PIN_ADC = machine.A1
	PIN_PWM = machine.D2

	// Serial configuration
	// Longest line is "V,4095\n" (7 bytes). At 16 conversions per 50ms measurement
	// the host reads ~2,240 bytes/sec; 115200 baud leaves ~5x headroom.
	UART_BAUD_RATE = 115200
)

// pwmPeripheral drives PIN_PWM. On the XIAO (SAMD21) D2 is routed to TCC0.
var pwmPeripheral = machine.TCC0
