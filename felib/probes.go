package felib

import "fmt"

// AnalogProbe identifies the signal routed to an analog virtual probe in
// second-generation DPP-PSD and DPP-PHA event records, as decoded from
// the ANALOG_PROBE_n_TYPE field.
type AnalogProbe int32

// Analog probe types.  ADCInput is common to both firmwares, the
// TimeFilter/EnergyFilter group is PHA, BaselineProbe and CFDProbe are
// PSD.
const (
	ADCInput                  AnalogProbe = 0x0
	TimeFilter                AnalogProbe = 0x1
	EnergyFilter              AnalogProbe = 0x2
	EnergyFilterBaseline      AnalogProbe = 0x3
	EnergyFilterMinusBaseline AnalogProbe = 0x4
	BaselineProbe             AnalogProbe = 0x9
	CFDProbe                  AnalogProbe = 0xa
	UnknownAnalogProbe        AnalogProbe = 0xff
)

var analogProbeNames = map[AnalogProbe]string{
	ADCInput:                  "ADC_INPUT",
	TimeFilter:                "TIME_FILTER",
	EnergyFilter:              "ENERGY_FILTER",
	EnergyFilterBaseline:      "ENERGY_FILTER_BASELINE",
	EnergyFilterMinusBaseline: "ENERGY_FILTER_MINUS_BASELINE",
	BaselineProbe:             "BASELINE",
	CFDProbe:                  "CFD",
	UnknownAnalogProbe:        "UNKNOWN",
}

func (p AnalogProbe) String() string {
	if s, ok := analogProbeNames[p]; ok {
		return s
	}
	return fmt.Sprintf("AnalogProbe(%d)", int32(p))
}

// DigitalProbe identifies the signal routed to a digital virtual probe
// in second-generation DPP event records, as decoded from the
// DIGITAL_PROBE_n_TYPE field.
type DigitalProbe int32

// Digital probe types.
const (
	TriggerProbe              DigitalProbe = 0x00
	TimeFilterArmed           DigitalProbe = 0x01
	ReTriggerGuard            DigitalProbe = 0x02
	EnergyBaselineFreeze      DigitalProbe = 0x03
	EnergyFilterPeaking       DigitalProbe = 0x04
	EnergyFilterPeakReady     DigitalProbe = 0x05
	EnergyFilterPileUpGuard   DigitalProbe = 0x06
	EventPileUp               DigitalProbe = 0x07
	ADCSaturation             DigitalProbe = 0x08
	ADCSaturationProtection   DigitalProbe = 0x09
	PostSaturationEvent       DigitalProbe = 0x0a
	EnergyFilterSaturation    DigitalProbe = 0x0b
	SignalInhibit             DigitalProbe = 0x0c
	OverThreshold             DigitalProbe = 0x14
	ChargeReady               DigitalProbe = 0x15
	LongGate                  DigitalProbe = 0x16
	ShortGate                 DigitalProbe = 0x18
	InputSaturation           DigitalProbe = 0x19
	ChargeOverRange           DigitalProbe = 0x1a
	NegativeOverThreshold     DigitalProbe = 0x1b
	UnknownDigitalProbe       DigitalProbe = 0xff
)

var digitalProbeNames = map[DigitalProbe]string{
	TriggerProbe:            "TRIGGER",
	TimeFilterArmed:         "TIME_FILTER_ARMED",
	ReTriggerGuard:          "RE_TRIGGER_GUARD",
	EnergyBaselineFreeze:    "ENERGY_FILTER_BASELINE_FREEZE",
	EnergyFilterPeaking:     "ENERGY_FILTER_PEAKING",
	EnergyFilterPeakReady:   "ENERGY_FILTER_PEAK_READY",
	EnergyFilterPileUpGuard: "ENERGY_FILTER_PILE_UP_GUARD",
	EventPileUp:             "EVENT_PILE_UP",
	ADCSaturation:           "ADC_SATURATION",
	ADCSaturationProtection: "ADC_SATURATION_PROTECTION",
	PostSaturationEvent:     "POST_SATURATION_EVENT",
	EnergyFilterSaturation:  "ENERGY_FILTER_SATURATION",
	SignalInhibit:           "SIGNAL_INHIBIT",
	OverThreshold:           "OVER_THRESHOLD",
	ChargeReady:             "CHARGE_READY",
	LongGate:                "LONG_GATE",
	ShortGate:               "SHORT_GATE",
	InputSaturation:         "INPUT_SATURATION",
	ChargeOverRange:         "CHARGE_OVER_RANGE",
	NegativeOverThreshold:   "NEGATIVE_OVER_THRESHOLD",
	UnknownDigitalProbe:     "UNKNOWN",
}

func (p DigitalProbe) String() string {
	if s, ok := digitalProbeNames[p]; ok {
		return s
	}
	return fmt.Sprintf("DigitalProbe(%d)", int32(p))
}
