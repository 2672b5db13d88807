package eventcapture

import "fmt"

// Crop keeps the events inside a box and moves the origin to its top-left corner.
type Crop struct {
	X, Y          int
	Width, Height int
}

// Apply drops events outside the box.
func (c Crop) Apply(batch EventBatch) (EventBatch, error) {
	if c.Width <= 0 || c.Height <= 0 {
		return nil, fmt.Errorf("crop: invalid size %dx%d", c.Width, c.Height)
	}
	out := make(EventBatch, 0, len(batch))
	for _, ev := range batch {
		if ev.X < c.X || ev.X >= c.X+c.Width || ev.Y < c.Y || ev.Y >= c.Y+c.Height {
			continue
		}
		ev.X -= c.X
		ev.Y -= c.Y
		out = append(out, ev)
	}
	return out, nil
}

// OutputShape replaces height and width with the box size.
func (c Crop) OutputShape(in EventVolume) EventVolume {
	in.Height = c.Height
	in.Width = c.Width
	return in
}

// Downsample divides coordinates by integer factors. Factors below 1 count as 1.
type Downsample struct {
	FactorX, FactorY int
}

func (d Downsample) factors() (int, int) {
	return max(d.FactorX, 1), max(d.FactorY, 1)
}

// Apply scales every coordinate down.
func (d Downsample) Apply(batch EventBatch) (EventBatch, error) {
	fx, fy := d.factors()
	out := make(EventBatch, len(batch))
	for i, ev := range batch {
		ev.X /= fx
		ev.Y /= fy
		out[i] = ev
	}
	return out, nil
}

// OutputShape returns ceil(dim / factor) for height and width.
func (d Downsample) OutputShape(in EventVolume) EventVolume {
	fx, fy := d.factors()
	in.Width = (in.Width + fx - 1) / fx
	in.Height = (in.Height + fy - 1) / fy
	return in
}

// MergePolarities maps both polarities onto channel 0.
type MergePolarities struct{}

// Apply zeroes every polarity.
func (MergePolarities) Apply(batch EventBatch) (EventBatch, error) {
	out := make(EventBatch, len(batch))
	for i, ev := range batch {
		ev.Polarity = 0
		out[i] = ev
	}
	return out, nil
}

// OutputShape collapses the polarity axis to one channel.
func (MergePolarities) OutputShape(in EventVolume) EventVolume {
	in.Polarities = 1
	return in
}

// FlipLR mirrors events horizontally inside a sensor of the given width.
type FlipLR struct {
	Width int
}

// Apply maps x to Width-1-x.
func (f FlipLR) Apply(batch EventBatch) (EventBatch, error) {
	out := make(EventBatch, len(batch))
	for i, ev := range batch {
		ev.X = f.Width - 1 - ev.X
		out[i] = ev
	}
	return out, nil
}

// OutputShape is the identity.
func (FlipLR) OutputShape(in EventVolume) EventVolume { return in }

// FlipUD mirrors events vertically inside a sensor of the given height.
type FlipUD struct {
	Height int
}

// Apply maps y to Height-1-y.
func (f FlipUD) Apply(batch EventBatch) (EventBatch, error) {
	out := make(EventBatch, len(batch))
	for i, ev := range batch {
		ev.Y = f.Height - 1 - ev.Y
		out[i] = ev
	}
	return out, nil
}

// OutputShape is the identity.
func (FlipUD) OutputShape(in EventVolume) EventVolume { return in }

// RefractoryFilter drops an event when the same pixel fired less than Period
// microseconds earlier in the batch. State does not carry across batches.
type RefractoryFilter struct {
	Period int64
}

// Apply filters the batch.
func (r RefractoryFilter) Apply(batch EventBatch) (EventBatch, error) {
	if r.Period <= 0 {
		return batch, nil
	}
	last := make(map[[2]int]int64, len(batch))
	out := make(EventBatch, 0, len(batch))
	for _, ev := range batch {
		px := [2]int{ev.X, ev.Y}
		if t, seen := last[px]; seen && ev.Timestamp-t < r.Period {
			continue
		}
		last[px] = ev.Timestamp
		out = append(out, ev)
	}
	return out, nil
}

// OutputShape is the identity.
func (RefractoryFilter) OutputShape(in EventVolume) EventVolume { return in }
