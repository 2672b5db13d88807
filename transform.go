package eventcapture

import "fmt"

// Transform remaps an event batch and declares the tensor shape it produces.
//
// Implementations must be deterministic for a given input and must keep
// OutputShape consistent with what Apply emits: every event returned by Apply
// has to fit inside OutputShape(in). The construction-time dry run is the only
// place this contract is checked.
type Transform interface {
	// Apply returns the transformed batch. It may reuse the input's backing array.
	Apply(batch EventBatch) (EventBatch, error)

	// OutputShape returns the shape Apply produces for input shape in.
	OutputShape(in EventVolume) EventVolume
}

// Compose is an ordered, immutable chain of transforms.
// A nil or empty Compose is the identity.
type Compose struct {
	transforms []Transform
}

// NewCompose builds a pipeline that applies ts in order. Nil entries are skipped.
func NewCompose(ts ...Transform) *Compose {
	c := &Compose{transforms: make([]Transform, 0, len(ts))}
	for _, t := range ts {
		if t != nil {
			c.transforms = append(c.transforms, t)
		}
	}
	return c
}

// Len returns the number of transforms.
func (c *Compose) Len() int {
	if c == nil {
		return 0
	}
	return len(c.transforms)
}

// OutputShape folds each transform's OutputShape over in, in pipeline order.
func (c *Compose) OutputShape(in EventVolume) EventVolume {
	if c == nil {
		return in
	}
	shape := in
	for _, t := range c.transforms {
		shape = t.OutputShape(shape)
	}
	return shape
}

// Apply folds each transform's Apply over batch, stopping at the first error.
func (c *Compose) Apply(batch EventBatch) (EventBatch, error) {
	if c == nil {
		return batch, nil
	}
	var err error
	for i, t := range c.transforms {
		batch, err = t.Apply(batch)
		if err != nil {
			return nil, fmt.Errorf("transform %d (%T): %w", i, t, err)
		}
	}
	return batch, nil
}

// TransformFunc adapts a pair of functions to the Transform interface.
// A nil Shape leaves the shape unchanged.
type TransformFunc struct {
	Fn    func(EventBatch) (EventBatch, error)
	Shape func(EventVolume) EventVolume
}

// Apply calls Fn.
func (f TransformFunc) Apply(batch EventBatch) (EventBatch, error) {
	return f.Fn(batch)
}

// OutputShape calls Shape, or returns in unchanged.
func (f TransformFunc) OutputShape(in EventVolume) EventVolume {
	if f.Shape == nil {
		return in
	}
	return f.Shape(in)
}
