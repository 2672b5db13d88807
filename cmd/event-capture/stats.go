package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	eventcapture "github.com/e7canasta/orion-care-sensor/modules/event-capture"
	"github.com/e7canasta/orion-care-sensor/modules/event-capture/internal/framebus"
)

func count(n uint64) string {
	return humanize.Comma(int64(n))
}

func printStats(uptime time.Duration, st eventcapture.CaptureStats, bs framebus.Stats, src *eventSource, o *outputs) {
	fmt.Printf("\n")
	fmt.Printf("╭─────────────────────────────────────────────────────────╮\n")
	fmt.Printf("│ Capture Statistics (Uptime: %s)\n", uptime.Round(time.Second))
	fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
	fmt.Printf("│ Frames Emitted:     %12s (%s empty)\n", count(st.FramesEmitted), count(st.EmptyFrames))
	fmt.Printf("│ Events In:          %12s\n", count(st.EventsIn))
	fmt.Printf("│ Events Binned:      %12s\n", count(st.EventsOut))
	if st.EventsDropped > 0 || st.Pauses > 0 {
		fmt.Printf("│ Pauses:             %12s (%s events dropped)\n", count(st.Pauses), count(st.EventsDropped))
	}
	if st.ClippedEvents > 0 {
		fmt.Printf("│ Clipped Events:     %12s\n", count(st.ClippedEvents))
	}
	fmt.Printf("│ Last Span:          %12s\n", time.Duration(st.LastSpanMicros)*time.Microsecond)
	fmt.Printf("│ Tick Rate:          %9.2f Hz (stable: %v)\n", st.Cadence.RateMean, st.Cadence.IsStable)
	fmt.Printf("│ Tick Jitter:        %12s (max %s)\n", st.Cadence.JitterMean.Round(time.Microsecond), st.Cadence.JitterMax.Round(time.Microsecond))

	printSourceStats(src)

	fmt.Printf("├─────────────────────────────────────────────────────────┤\n")
	fmt.Printf("│ Bus Published:      %12s\n", count(bs.TotalPublished))
	ids := make([]string, 0, len(bs.Subscribers))
	for id := range bs.Subscribers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s := bs.Subscribers[id]
		fmt.Printf("│   %-16s  %12s sent, %s dropped\n", id, count(s.Sent), count(s.Dropped))
	}

	if o != nil && o.mqtt != nil {
		m := o.mqtt.Stats()
		fmt.Printf("│ MQTT Published:     %12s (%s, %s errors, connected: %v)\n",
			count(m.Published), humanize.Bytes(m.Bytes), count(m.Errors), m.Connected)
	}
	if o != nil && o.kafka != nil {
		k := o.kafka.Stats()
		fmt.Printf("│ Kafka Published:    %12s (%s, %s errors)\n",
			count(k.Published), humanize.Bytes(k.Bytes), count(k.Errors))
	}
	if o != nil && o.preview != nil {
		fmt.Printf("│ Preview Frames:     %12s\n", count(o.preview.Pushed()))
	}
	fmt.Printf("╰─────────────────────────────────────────────────────────╯\n")
	fmt.Printf("\n")
}

func printSourceStats(src *eventSource) {
	switch {
	case src.synthetic != nil:
		s := src.synthetic.Stats()
		fmt.Printf("│ Generated:          %12s (%s dropped)\n", count(s.Generated), count(s.Dropped))
	case src.bridge != nil:
		s := src.bridge.Stats()
		fmt.Printf("│ Bridge Packets:     %12s (%s events)\n", count(s.Packets), count(s.Events))
		fmt.Printf("│ Bridge Connected:   %12v (%d reconnects, %s restarts)\n", s.Connected, s.Reconnects, count(s.Epochs))
		if lost := s.Dropped + s.Late + s.DecodeErrors; lost > 0 {
			fmt.Printf("│ Bridge Rejected:    %12s (late %s, decode %s, full %s)\n",
				count(lost), count(s.Late), count(s.DecodeErrors), count(s.Dropped))
		}
		if s.SeqGaps > 0 || s.OutOfBounds > 0 {
			fmt.Printf("│ Bridge Gaps:        %12s (%s out of bounds)\n", count(s.SeqGaps), count(s.OutOfBounds))
		}
	case src.replay != nil:
		fmt.Printf("│ Replayed:           %12s (done: %v)\n", count(src.replay.Read()), src.replay.Done())
	}
	if src.recorder != nil {
		fmt.Printf("│ Recorded:           %12s\n", count(src.recorder.Written()))
	}
}

func printFinalStats(uptime time.Duration, st eventcapture.CaptureStats, bs framebus.Stats, src *eventSource, o *outputs) {
	fmt.Printf("\n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("                     Final Statistics                      \n")
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("  Total Uptime:       %s\n", uptime.Round(time.Second))
	fmt.Printf("  Output Shape:       %s\n", st.OutputShape)
	fmt.Printf("  Frames Emitted:     %s\n", count(st.FramesEmitted))
	fmt.Printf("  Events Binned:      %s of %s\n", count(st.EventsOut), count(st.EventsIn))
	if st.Ticks > 0 && uptime > 0 {
		fmt.Printf("  Average Rate:       %.2f Hz\n", float64(st.Ticks)/uptime.Seconds())
	}
	if src.recorder != nil {
		fmt.Printf("  Events Recorded:    %s\n", count(src.recorder.Written()))
	}
	fmt.Printf("  Bus Published:      %s\n", count(bs.TotalPublished))
	if o != nil && o.mqtt != nil {
		fmt.Printf("  MQTT Bytes:         %s\n", humanize.Bytes(o.mqtt.Stats().Bytes))
	}
	if o != nil && o.kafka != nil {
		fmt.Printf("  Kafka Bytes:        %s\n", humanize.Bytes(o.kafka.Stats().Bytes))
	}
	fmt.Printf("═══════════════════════════════════════════════════════════\n")
	fmt.Printf("\n")
}
