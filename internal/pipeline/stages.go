package pipeline

import (
	"context"

	"github.com/solatis/engage/internal/rules"
	"github.com/solatis/engage/internal/types"
)

/*
 * Transform stages.
 *
 * Normalizer, Decorator and Validator only act on OpReport; every other
 * operation kind passes through untouched. Each receives the merged
 * Configuration at construction, so a chain is only ever built after
 * bootstrap succeeded.
 */

// Decorator parameter keys.
const (
	KeyDeviceType   = "event_device_type"
	KeyPlatform     = "event_platform"
	KeyOS           = "event_os"
	KeyNativeMobile = "event_native_mobile"
)

// Normalizer rewrites custom event names and parameter keys into canonical
// form and coerces values toward their declared types.
type Normalizer struct {
	cfg types.Configuration
}

// NewNormalizer creates a Normalizer for cfg.
func NewNormalizer(cfg types.Configuration) *Normalizer {
	return &Normalizer{cfg: cfg}
}

// Process implements Stage.
func (n *Normalizer) Process(_ context.Context, op types.Operation) (types.Operation, bool, error) {
	if op.Kind != types.OpReport || op.Event.Category != types.CategoryCustom {
		return op, true, nil
	}
	op.Event = n.normalize(op.Event)
	return op, true, nil
}

func (n *Normalizer) normalize(e types.Event) types.Event {
	name := rules.NormalizeKey(e.Name)
	ec, ok := n.cfg.Event(name)
	if !ok {
		return e
	}

	ctx := make(map[string]types.Value, len(e.Context))
	for key, value := range e.Context {
		key = rules.NormalizeKey(key)
		spec, declared := ec.Parameters[key]
		switch {
		case declared && spec.Type == types.ParamBoolean && value.Kind() == types.KindNumber:
			value, _ = rules.Coerce(value, types.ParamBoolean)
		case value.Kind() == types.KindString:
			value, _ = rules.Coerce(value, types.ParamString)
		}
		ctx[key] = value
	}
	e.Name = name
	e.Context = ctx
	return e
}

// Decorator injects device metadata the event configuration declares.
type Decorator struct {
	cfg      types.Configuration
	defaults map[string]types.Value
}

// NewDecorator creates a Decorator for cfg and device.
func NewDecorator(cfg types.Configuration, device types.Device) *Decorator {
	return &Decorator{
		cfg: cfg,
		defaults: map[string]types.Value{
			KeyDeviceType:   types.StringValue(device.DeviceType),
			KeyPlatform:     types.StringValue(device.Platform),
			KeyOS:           types.StringValue(device.OS()),
			KeyNativeMobile: types.BoolValue(true),
		},
	}
}

// Process implements Stage.
func (d *Decorator) Process(_ context.Context, op types.Operation) (types.Operation, bool, error) {
	if op.Kind != types.OpReport {
		return op, true, nil
	}
	ec, ok := d.cfg.Event(op.Event.Name)
	if !ok {
		return op, true, nil
	}

	var ctx map[string]types.Value
	for key, value := range d.defaults {
		if _, declared := ec.Parameters[key]; !declared {
			continue
		}
		if ctx == nil {
			ctx = make(map[string]types.Value, len(op.Event.Context)+len(d.defaults))
			for k, v := range op.Event.Context {
				ctx[k] = v
			}
		}
		ctx[key] = value
	}
	if ctx != nil {
		op.Event = op.Event.WithContext(ctx)
	}
	return op, true, nil
}

// Validator rejects report operations that do not match their schema.
type Validator struct {
	cfg types.Configuration
}

// NewValidator creates a Validator for cfg.
func NewValidator(cfg types.Configuration) *Validator {
	return &Validator{cfg: cfg}
}

// Process implements Stage. Rejections are *types.ValidationError.
func (v *Validator) Process(_ context.Context, op types.Operation) (types.Operation, bool, error) {
	if op.Kind != types.OpReport {
		return op, true, nil
	}
	ec, ok := v.cfg.Event(op.Event.Name)
	if !ok {
		return op, false, &types.ValidationError{Event: op.Event.Name, Err: types.ErrUnknownEvent}
	}
	if err := rules.Validate(op.Event, ec); err != nil {
		return op, false, err
	}
	return op, true, nil
}
