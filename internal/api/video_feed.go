package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/google/uuid"

	"github.com/Capitan-Parrot/motion-detector/internal/pipeline"
	"github.com/Capitan-Parrot/motion-detector/internal/stream"
)

const frameBoundary = "frame"

// MultipartSink writes frames as a multipart/x-mixed-replace response.
// Headers are sent with the first frame so that earlier failures can still
// be reported with a status code.
type MultipartSink struct {
	w       http.ResponseWriter
	mw      *multipart.Writer
	started bool
}

func NewMultipartSink(w http.ResponseWriter) *MultipartSink {
	mw := multipart.NewWriter(w)
	mw.SetBoundary(frameBoundary)
	return &MultipartSink{w: w, mw: mw}
}

func (s *MultipartSink) Started() bool {
	return s.started
}

func (s *MultipartSink) start() {
	s.w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+frameBoundary)
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

func (s *MultipartSink) WriteFrame(jpeg []byte) error {
	if !s.started {
		s.start()
	}

	part, err := s.mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"image/jpeg"},
	})
	if err != nil {
		return err
	}
	if _, err := part.Write(jpeg); err != nil {
		return err
	}

	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// Close writes the closing boundary.
func (s *MultipartSink) Close() error {
	if !s.started {
		s.start()
	}
	return s.mw.Close()
}

// VideoFeedHandler отдаёт поток кадров с разметкой детектора
func (h *Handlers) VideoFeedHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	kind := q.Get("stream_type")
	if kind == "" {
		kind = string(stream.KindWebcam)
	}
	params := stream.Params{URL: q.Get("url")}
	if raw := q.Get("device"); raw != "" {
		device, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "device must be an integer")
			return
		}
		params.Device = device
	}

	if err := stream.Validate(kind, params); err != nil {
		writeError(w, http.StatusBadRequest, streamErrorDetail(err))
		return
	}

	source, err := h.deps.Opener.Open(kind, params)
	if err != nil {
		h.logger.Error("failed to open stream", "kind", kind, "error", err)
		if errors.Is(err, stream.ErrUnknownStreamKind) || errors.Is(err, stream.ErrInvalidParameters) {
			writeError(w, http.StatusBadRequest, streamErrorDetail(err))
			return
		}
		writeError(w, http.StatusInternalServerError, "Video stream is unavailable")
		return
	}

	streamID := uuid.New().String()
	processor, err := h.deps.Processors(streamID)
	if err != nil {
		source.Release()
		h.logger.Error("failed to create detector", "stream", streamID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create detector")
		return
	}

	sink := NewMultipartSink(w)
	driver := pipeline.NewDriver(source, processor, h.deps.Pool, sink, h.logger, pipeline.Options{
		StreamID: streamID,
		Mirror:   h.deps.Mirror,
		Pre:      []pipeline.Hook{pipeline.LogFrames(h.logger, 100)},
	})

	h.logger.Info("video feed started", "stream", streamID, "kind", kind, "remote", r.RemoteAddr)
	if err := driver.Run(r.Context()); err != nil {
		h.logger.Error("error during video processing", "stream", streamID, "error", err)
		if !sink.Started() {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Video processing failed: %v", err))
			return
		}
	}

	if err := sink.Close(); err != nil {
		h.logger.Debug("failed to close multipart stream", "stream", streamID, "error", err)
	}
	h.logger.Info("video feed finished", "stream", streamID, "frames", driver.Frames())
}

func streamErrorDetail(err error) string {
	switch {
	case errors.Is(err, stream.ErrUnknownStreamKind):
		return "Unknown stream type"
	case errors.Is(err, stream.ErrInvalidParameters):
		return err.Error()
	default:
		return "Invalid stream request"
	}
}
