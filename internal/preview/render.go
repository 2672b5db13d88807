// Package preview shows histogram frames in a GStreamer video window.
package preview

import (
	eventcapture "github.com/e7canasta/orion-care-sensor/modules/event-capture"
)

// Gray is the background level of a two-polarity render.
const Gray = 128

// Render converts the first time bin of frame into a GRAY8 image of
// Height x Width bytes.
//
// With two polarities, ON events brighten and OFF events darken a gray
// background by gain per event. With one polarity, counts brighten a black
// background.
func Render(frame eventcapture.Frame, gain int) []byte {
	s := frame.Shape
	plane := s.Height * s.Width
	out := make([]byte, plane)
	if len(frame.Data) < s.Polarities*plane || plane == 0 {
		return out
	}

	if s.Polarities == 1 {
		for i := range out {
			out[i] = clamp(int(frame.Data[i]) * gain)
		}
		return out
	}

	off := frame.Data[:plane]
	on := frame.Data[plane : 2*plane]
	for i := range out {
		out[i] = clamp(Gray + (int(on[i])-int(off[i]))*gain)
	}
	return out
}

func clamp(v int) byte {
	return byte(min(max(v, 0), 255))
}
