package pmstepper

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"

	"github.com/viam-modules/pm-stepper/fblin"
)

// PinConfig names the board pins the two H-bridges and the heartbeat LED are wired to.
type PinConfig struct {
	PWMA      string `json:"pwm_a"`
	DirA      string `json:"dir_a"`
	PWMB      string `json:"pwm_b"`
	DirB      string `json:"dir_b"`
	Heartbeat string `json:"heartbeat,omitempty"`
}

// AnalogConfig names the board analog readers on the phase current shunts.
type AnalogConfig struct {
	CurrentA string `json:"current_a"`
	CurrentB string `json:"current_b"`
}

// GainConfig overrides the controller gains.
type GainConfig struct {
	Kp     *float64 `json:"kp,omitempty"`
	Kd     *float64 `json:"kd,omitempty"`
	AlphaA *float64 `json:"alpha_a,omitempty"`
	AlphaB *float64 `json:"alpha_b,omitempty"`
}

// MotorParameters overrides the motor model used by the feedforward terms.
type MotorParameters struct {
	Resistance     *float64 `json:"resistance_ohm,omitempty"`
	Inductance     *float64 `json:"inductance_h,omitempty"`
	TorqueConstant *float64 `json:"torque_constant_nm_per_a,omitempty"`
	Inertia        *float64 `json:"inertia_kg_m2,omitempty"`
	Damping        *float64 `json:"damping_nm_s,omitempty"`
	Teeth          *int     `json:"teeth,omitempty"`
}

// Config describes the configuration of a feedback-linearized stepper.
type Config struct {
	BoardName           string           `json:"board"`
	Encoder             string           `json:"encoder"`
	Pins                PinConfig        `json:"pins"`
	Analogs             AnalogConfig     `json:"analogs"`
	Gains               *GainConfig      `json:"gains,omitempty"`
	MotorParams         *MotorParameters `json:"motor_params,omitempty"`
	Controller          string           `json:"controller,omitempty"`
	MaxRPM              float64          `json:"max_rpm,omitempty"`
	VMax                float64          `json:"v_max,omitempty"`
	TickPeriodMS        float64          `json:"tick_period_ms,omitempty"`
	MissionDurationSec  float64          `json:"mission_duration_sec,omitempty"`
	LogCapacity         int              `json:"log_capacity,omitempty"`
	LogPolicy           string           `json:"log_policy,omitempty"`
	CountsPerRevolution int64            `json:"counts_per_revolution,omitempty"`
	CurrentScale        float64          `json:"current_scale_a_per_count,omitempty"`
	PWMPeriod           uint32           `json:"pwm_period,omitempty"`
	EncoderReversed     bool             `json:"encoder_reversed,omitempty"`
	PWMFreqHz           uint             `json:"pwm_freq_hz,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (config *Config) Validate(path string) ([]string, []string, error) {
	if config.BoardName == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "board")
	}
	if config.Encoder == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "encoder")
	}
	for _, pin := range []struct{ field, name string }{
		{"pins.pwm_a", config.Pins.PWMA},
		{"pins.dir_a", config.Pins.DirA},
		{"pins.pwm_b", config.Pins.PWMB},
		{"pins.dir_b", config.Pins.DirB},
	} {
		if pin.name == "" {
			return nil, nil, resource.NewConfigValidationFieldRequiredError(path, pin.field)
		}
	}
	if config.Analogs.CurrentA == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "analogs.current_a")
	}
	if config.Analogs.CurrentB == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "analogs.current_b")
	}
	if config.MaxRPM < 0 || config.VMax < 0 || config.TickPeriodMS < 0 || config.MissionDurationSec < 0 {
		return nil, nil, errors.New("max_rpm, v_max, tick_period_ms and mission_duration_sec cannot be negative")
	}
	if config.LogCapacity < 0 || config.CountsPerRevolution < 0 || config.CurrentScale < 0 {
		return nil, nil, errors.New("log_capacity, counts_per_revolution and current_scale_a_per_count cannot be negative")
	}
	params, err := config.params()
	if err != nil {
		return nil, nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, nil, errors.Wrap(err, "invalid control parameters")
	}
	if _, err := fblin.NewController(config.Controller, params); err != nil {
		return nil, nil, err
	}
	return []string{config.BoardName, config.Encoder}, nil, nil
}

// params layers the configured overrides on the rig defaults.
func (config *Config) params() (fblin.Params, error) {
	p := fblin.DefaultParams()
	if g := config.Gains; g != nil {
		setIf(&p.Kp, g.Kp)
		setIf(&p.Kd, g.Kd)
		setIf(&p.AlphaA, g.AlphaA)
		setIf(&p.AlphaB, g.AlphaB)
	}
	if mp := config.MotorParams; mp != nil {
		setIf(&p.Resistance, mp.Resistance)
		setIf(&p.Inductance, mp.Inductance)
		setIf(&p.TorqueConstant, mp.TorqueConstant)
		setIf(&p.Inertia, mp.Inertia)
		setIf(&p.Damping, mp.Damping)
		if mp.Teeth != nil {
			p.Teeth = *mp.Teeth
		}
	}
	if config.VMax > 0 {
		p.VMax = config.VMax
	}
	if config.TickPeriodMS > 0 {
		p.TickPeriod = time.Duration(config.TickPeriodMS * float64(time.Millisecond))
	}
	if config.MissionDurationSec > 0 {
		p.MissionDuration = time.Duration(config.MissionDurationSec * float64(time.Second))
	}
	if config.LogCapacity > 0 {
		p.LogCapacity = config.LogCapacity
	}
	if config.CountsPerRevolution > 0 {
		p.CountsPerRevolution = config.CountsPerRevolution
	}
	if config.CurrentScale > 0 {
		p.CurrentScale = config.CurrentScale
	}
	if config.PWMPeriod > 0 {
		p.PWMPeriod = config.PWMPeriod
	}
	policy, err := fblin.ParseLogPolicy(config.LogPolicy)
	if err != nil {
		return p, err
	}
	p.LogPolicy = policy
	return p, nil
}

func setIf(dst, src *float64) {
	if src != nil {
		*dst = *src
	}
}

// applyDefaults fills in the fields that have a sensible default but no rig constant.
func (config *Config) applyDefaults(ctx context.Context, logger logging.Logger) {
	if config.MaxRPM == 0 {
		logger.CWarn(ctx, "max_rpm not set, setting to 60 rpm")
		config.MaxRPM = 60
	}
	if config.PWMFreqHz == 0 {
		config.PWMFreqHz = defaultPWMFreqHz
	}
}

// defaultPWMFreqHz is the carrier of the rig's up-down counting PWM.
const defaultPWMFreqHz = 10000

// rpmToRadPerSec converts shaft speed.
func rpmToRadPerSec(rpm float64) float64 {
	return rpm * 2 * math.Pi / 60
}
