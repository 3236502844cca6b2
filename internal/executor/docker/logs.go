package docker

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// textSink accumulates one demultiplexed stream. stdcopy writes each frame
// with a single Write call, so a frame that is not valid UTF-8 is dropped
// whole while the rest of the stream keeps flowing.
type textSink struct {
	buf     strings.Builder
	dropped int
}

func (s *textSink) Write(p []byte) (int, error) {
	if utf8.Valid(p) {
		s.buf.Write(p)
	} else {
		s.dropped++
	}
	return len(p), nil
}

// collectLogs reads everything the container wrote and splits it into stdout
// and stderr. Console frames (stream 0) are folded into stdout.
//
// A frame that is not valid UTF-8 is dropped on its own and later frames are
// still decoded. A read error on the multiplexed stream is different: the
// demultiplexer cannot resync after a bad frame header, so collection stops
// there. The error is logged and whatever was read before it is returned.
func collectLogs(ctx context.Context, daemon Daemon, containerID string, logger *slog.Logger) (stdout, stderr string, err error) {
	reader, err := daemon.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: false,
		Follow:     false,
		Tail:       "all",
	})
	if err != nil {
		logger.Warn("failed to open container logs",
			slog.String("container", containerID),
			slog.String("error", err.Error()),
		)
		return "", "", err
	}
	defer reader.Close()

	var out, errOut textSink
	_, err = stdcopy.StdCopy(&out, &errOut, reader)
	if err != nil {
		logger.Warn("error reading logs",
			slog.String("container", containerID),
			slog.String("error", err.Error()),
		)
	}
	if out.dropped+errOut.dropped > 0 {
		logger.Debug("dropped log frames that were not valid UTF-8",
			slog.String("container", containerID),
			slog.Int("frames", out.dropped+errOut.dropped),
		)
	}

	return out.buf.String(), errOut.buf.String(), err
}
