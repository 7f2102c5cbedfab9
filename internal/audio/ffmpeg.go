//go:build !windows

package audio

// buildFFmpegCaptureArgs constructs FFmpeg arguments for audio capture.
func buildFFmpegCaptureArgs(inputFormat, device string, band Band) []string {
	args := []string{
		"-f", inputFormat,
		"-i", device,
		"-nostdin",
	}
	return append(args, outputArgs(band)...)
}
