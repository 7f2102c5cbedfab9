//go:build windows

package audio

// buildFFmpegCaptureArgs constructs FFmpeg arguments for audio capture on Windows.
// Note: -nostdin is NOT used on Windows to allow graceful shutdown via 'q' command.
func buildFFmpegCaptureArgs(inputFormat, device string, band Band) []string {
	args := []string{
		"-f", inputFormat,
		"-i", device,
	}
	return append(args, outputArgs(band)...)
}
