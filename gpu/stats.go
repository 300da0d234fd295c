package gpu

import "time"

// Stats counts the work of the last completed frame along with live resource totals.
type Stats struct {
	Frames            int
	FrameTime         time.Duration
	AverageFrameTime  time.Duration
	SwapchainRebuilds int

	DrawCalls     int
	PipelineBinds int
	BufferBinds   int

	Images  int
	Buffers int

	frameDraws, framePipelineBinds, frameBufferBinds int
}

func (s *Stats) beginFrame() {
	s.frameDraws, s.framePipelineBinds, s.frameBufferBinds = s.DrawCalls, s.PipelineBinds, s.BufferBinds
}

func (s *Stats) endFrame(frameTime time.Duration) {
	s.Frames++
	s.FrameTime = frameTime
	if s.AverageFrameTime == 0 {
		s.AverageFrameTime = frameTime
	} else {
		// exponential moving average over roughly the last 16 frames
		s.AverageFrameTime += (frameTime - s.AverageFrameTime) / 16
	}
}

// FrameDrawCalls is the number of draws recorded since the current frame began.
func (s Stats) FrameDrawCalls() int {
	return s.DrawCalls - s.frameDraws
}

func (s Stats) FramePipelineBinds() int {
	return s.PipelineBinds - s.framePipelineBinds
}

func (s Stats) FrameBufferBinds() int {
	return s.BufferBinds - s.frameBufferBinds
}

func (d *Device) Stats() Stats {
	return d.stats
}
